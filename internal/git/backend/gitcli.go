package backend

import (
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"path/filepath"
	"strings"

	"github.com/jmgilman/go/exec"
)

type gitCLI struct {
	path string
}

func OpenCLI(ctx context.Context, repoPath string) (Backend, error) {
	if err := ensureMinGitVersion(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	tmp := &gitCLI{path: abs}
	root, err := tmp.runGitCommand(ctx, []string{"rev-parse", "--show-toplevel"}, false, "git rev-parse")
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("open repository: git rev-parse returned empty root")
	}
	return &gitCLI{path: root}, nil
}

func (g *gitCLI) RepoPath() string {
	if g == nil {
		return ""
	}
	return g.path
}

func (g *gitCLI) command(ctx context.Context, args []string) *osexec.Cmd {
	cmdArgs := append([]string{"--no-pager", "-C", g.path}, args...)
	return osexec.CommandContext(ctx, "git", cmdArgs...)
}

// runGitCommand runs git in the repository and returns its stdout. With allowExit1, an exit
// status of 1 without stderr output counts as success (git config and show-ref use it for
// "nothing found").
func (g *gitCLI) runGitCommand(ctx context.Context, args []string, allowExit1 bool, what string) (string, error) {
	if g == nil || g.path == "" {
		return "", fmt.Errorf("repository root not set")
	}
	git := exec.NewWrapper(exec.New(), "git")
	res, err := git.WithDir(g.path).WithContext(ctx).Run(append([]string{"--no-pager"}, args...)...)
	if err != nil {
		var execErr *exec.ExecError
		if !errors.As(err, &execErr) {
			return "", fmt.Errorf("%s: %w", what, err)
		}
		if allowExit1 && execErr.ExitCode == 1 && strings.TrimSpace(execErr.Stderr) == "" {
			return execErr.Stdout, nil
		}
		if stderr := strings.TrimSpace(execErr.Stderr); stderr != "" {
			return "", fmt.Errorf("%s: %v: %s", what, execErr.Err, stderr)
		}
		return "", fmt.Errorf("%s: %w", what, err)
	}
	return res.Stdout, nil
}
