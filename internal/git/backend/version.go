package backend

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/jmgilman/go/exec"
)

// gitVersion is major, minor, patch.
type gitVersion [3]int

// minGitVersion is the oldest git with every flag the CLI backend passes
// ("branch --format", "log --no-walk=unsorted").
var minGitVersion = gitVersion{2, 13, 0}

func MinGitVersion() string {
	return minGitVersion.String()
}

func (v gitVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

func (v gitVersion) less(other gitVersion) bool {
	return slices.Compare(v[:], other[:]) < 0
}

// Matches "git version 2.44.0", "git version 2.39.3 (Apple Git-146)",
// "git version 2.39.3.windows.1" and bare "2.42".
var gitVersionRe = regexp.MustCompile(`(?:^|git version )(\d+)\.(\d+)(?:\.(\d+))?`)

func parseGitVersionOutput(out string) (gitVersion, bool) {
	m := gitVersionRe.FindStringSubmatch(strings.TrimSpace(out))
	if m == nil {
		return gitVersion{}, false
	}
	var v gitVersion
	for i, part := range m[1:] {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return gitVersion{}, false
		}
		v[i] = n
	}
	return v, true
}

func validateGitVersionOutput(out string) error {
	got, ok := parseGitVersionOutput(out)
	if !ok {
		return fmt.Errorf("unable to parse git version output: %q", strings.TrimSpace(out))
	}
	if got.less(minGitVersion) {
		return fmt.Errorf("git %s is too old; vcslog requires git >= %s", got, minGitVersion)
	}
	return nil
}

var gitVersionOutput = sync.OnceValues(func() (string, error) {
	res, err := exec.NewWrapper(exec.New(), "git").Run("--version")
	if err != nil {
		return "", fmt.Errorf("git --version: %w", err)
	}
	return strings.TrimSpace(res.Stdout), nil
})

// GitVersion returns the output of `git --version`, cached for the process lifetime.
func GitVersion() (string, error) {
	return gitVersionOutput()
}

func ensureMinGitVersion() error {
	out, err := GitVersion()
	if err != nil {
		return err
	}
	return validateGitVersionOutput(out)
}
