package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	osexec "os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NUL-delimited records; commit message cannot contain NUL.
const logFormat = "%H%n%P%n%an%n%ae%n%aI%n%cn%n%ce%n%cI%n%B%x00"

type gitLogStream struct {
	cancel context.CancelFunc
	cmd    *osexec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	r      *bufio.Reader

	waitOnce sync.Once
	waitErr  error
}

func (g *gitCLI) StartLogStream(ctx context.Context, opts LogOptions) (LogStream, error) {
	if g == nil || g.path == "" {
		return nil, fmt.Errorf("repository root not set")
	}
	args := []string{
		"log",
		"--no-color",
		"--no-decorate",
		"--date-order",
		"--no-patch",
		// Use tformat to avoid git log adding an extra newline after each record.
		"--pretty=tformat:" + logFormat,
	}
	if opts.MaxCount > 0 {
		args = append(args, "--max-count="+strconv.Itoa(opts.MaxCount))
	}
	if len(opts.Revs) == 0 {
		args = append(args, "--all")
	} else {
		args = append(args, opts.Revs...)
	}
	args = append(args, "--")
	args = append(args, opts.Paths...)
	return g.startLogStream(ctx, args, nil)
}

// ReadCommits reads the given commits in request order, walking none of their ancestors.
func (g *gitCLI) ReadCommits(ctx context.Context, hashes []string) ([]*Commit, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	args := []string{
		"log",
		"--no-color",
		"--no-decorate",
		"--no-walk=unsorted",
		"--no-patch",
		"--pretty=tformat:" + logFormat,
		"--stdin",
	}
	stdin := strings.NewReader(strings.Join(hashes, "\n") + "\n")
	stream, err := g.startLogStream(ctx, args, stdin)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	commits := make([]*Commit, 0, len(hashes))
	for {
		commit, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

func (g *gitCLI) startLogStream(parent context.Context, args []string, stdin io.Reader) (*gitLogStream, error) {
	ctx, cancel := context.WithCancel(parent)
	cmd := g.command(ctx, args)
	cmd.Stdin = stdin

	var stream gitLogStream
	stream.cancel = cancel
	stream.cmd = cmd
	cmd.Stderr = &stream.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("git log stdout: %w", err)
	}
	stream.stdout = stdout
	stream.r = bufio.NewReader(stdout)
	if err := cmd.Start(); err != nil {
		cancel()
		_ = stdout.Close()
		if stream.stderr.Len() > 0 {
			return nil, fmt.Errorf("git log start: %v: %s", err, strings.TrimSpace(stream.stderr.String()))
		}
		return nil, fmt.Errorf("git log start: %w", err)
	}
	return &stream, nil
}

func (s *gitLogStream) Next() (*Commit, error) {
	rec, err := s.r.ReadBytes(0)
	if err != nil {
		if err == io.EOF {
			if waitErr := s.wait(); waitErr != nil {
				return nil, waitErr
			}
			return nil, io.EOF
		}
		return nil, err
	}
	// Strip trailing NUL.
	rec = rec[:len(rec)-1]
	// git log prints a newline between commits even when the format ends with NUL,
	// so subsequent records can start with '\n'.
	for len(rec) > 0 && (rec[0] == '\n' || rec[0] == '\r') {
		rec = rec[1:]
	}
	if len(rec) == 0 {
		return nil, fmt.Errorf("unexpected empty git log record")
	}
	return parseGitLogRecord(rec)
}

func (s *gitLogStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	err := s.wait()
	if s.cancelled() {
		return nil
	}
	return err
}

// cancelled reports whether the process was stopped by Close rather than failing.
func (s *gitLogStream) cancelled() bool {
	return s.cmd.ProcessState != nil && !s.cmd.ProcessState.Success() && s.stderr.Len() == 0
}

func (s *gitLogStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	if s.waitErr == nil {
		return nil
	}
	if s.stderr.Len() > 0 {
		return fmt.Errorf("git log: %v: %s", s.waitErr, strings.TrimSpace(s.stderr.String()))
	}
	return fmt.Errorf("git log: %w", s.waitErr)
}

func parseGitLogRecord(rec []byte) (*Commit, error) {
	parts := strings.Split(string(rec), "\n")
	if len(parts) < 8 {
		return nil, fmt.Errorf("unexpected git log record: got %d lines", len(parts))
	}
	hashStr := strings.TrimSpace(parts[0])
	if hashStr == "" {
		return nil, fmt.Errorf("missing commit hash")
	}
	var parents []string
	if parentLine := strings.TrimSpace(parts[1]); parentLine != "" {
		parents = strings.Fields(parentLine)
	}
	authorWhen, _ := time.Parse(time.RFC3339, parts[4])
	committerWhen, _ := time.Parse(time.RFC3339, parts[7])
	message := ""
	if len(parts) > 8 {
		message = strings.Join(parts[8:], "\n")
	}
	return &Commit{
		Hash:         hashStr,
		ParentHashes: parents,
		Author:       Signature{Name: parts[2], Email: parts[3], When: authorWhen},
		Committer:    Signature{Name: parts[5], Email: parts[6], When: committerWhen},
		Message:      message,
	}, nil
}
