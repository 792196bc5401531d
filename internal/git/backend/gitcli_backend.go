package backend

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

func (g *gitCLI) ListRefs(ctx context.Context) ([]Ref, error) {
	if g == nil || g.path == "" {
		return nil, nil
	}
	out, err := g.runGitCommand(ctx, []string{"show-ref", "--dereference"}, true, "git show-ref")
	if err != nil {
		return nil, err
	}
	return parseRefsFromShowRef(out)
}

func (g *gitCLI) ChangedPaths(ctx context.Context, hash string) ([]Change, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, fmt.Errorf("commit not specified")
	}
	parents, err := g.runGitCommand(ctx, []string{"rev-list", "--parents", "-n", "1", hash}, false, "git rev-list")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(parents)
	args := []string{"diff-tree", "--no-color", "--no-commit-id", "-r", "-M", "--name-status", "-z"}
	if len(fields) > 1 {
		args = append(args, fields[1], hash)
	} else {
		args = append(args, "--root", hash)
	}
	out, err := g.runGitCommand(ctx, args, false, "git diff-tree")
	if err != nil {
		return nil, err
	}
	return parseNameStatus(out)
}

func (g *gitCLI) ConfigUser(ctx context.Context) (User, bool, error) {
	name, err := g.runGitCommand(ctx, []string{"config", "--get", "user.name"}, true, "git config")
	if err != nil {
		return User{}, false, err
	}
	email, err := g.runGitCommand(ctx, []string{"config", "--get", "user.email"}, true, "git config")
	if err != nil {
		return User{}, false, err
	}
	user := User{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email)}
	if user.Name == "" && user.Email == "" {
		return User{}, false, nil
	}
	return user, true, nil
}

func (g *gitCLI) BranchesContaining(ctx context.Context, hash string) ([]string, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, fmt.Errorf("commit not specified")
	}
	out, err := g.runGitCommand(
		ctx,
		[]string{"branch", "--all", "--no-color", "--format=%(refname)", "--contains", hash},
		false,
		"git branch",
	)
	if err != nil {
		return nil, err
	}
	return parseBranchRefNames(out), nil
}

// parseBranchRefNames turns full ref names into short branch names, skipping symbolic
// remote HEADs.
func parseBranchRefNames(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		var short string
		switch {
		case strings.HasPrefix(line, "refs/heads/"):
			short = strings.TrimPrefix(line, "refs/heads/")
		case strings.HasPrefix(line, "refs/remotes/"):
			short = strings.TrimPrefix(line, "refs/remotes/")
			if strings.HasSuffix(short, "/HEAD") {
				continue
			}
		}
		if short != "" {
			names = append(names, short)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// parseNameStatus parses `diff-tree --name-status -z` output: a status token followed by
// one path, or two for renames and copies.
func parseNameStatus(out string) ([]Change, error) {
	tokens := strings.Split(strings.TrimSuffix(out, "\x00"), "\x00")
	var changes []Change
	for i := 0; i < len(tokens); i++ {
		status := strings.TrimSpace(tokens[i])
		if status == "" {
			continue
		}
		kind := ChangeStatus(status[0])
		if i+1 >= len(tokens) {
			return nil, fmt.Errorf("unexpected name-status output: missing path for %q", status)
		}
		switch kind {
		case ChangeRenamed, ChangeCopied:
			if i+2 >= len(tokens) {
				return nil, fmt.Errorf("unexpected name-status output: missing target for %q", status)
			}
			changes = append(changes, Change{Status: kind, OldPath: tokens[i+1], Path: tokens[i+2]})
			i += 2
		case ChangeAdded, ChangeModified, ChangeDeleted, ChangeType:
			changes = append(changes, Change{Status: kind, Path: tokens[i+1]})
			i++
		default:
			changes = append(changes, Change{Status: ChangeModified, Path: tokens[i+1]})
			i++
		}
	}
	return changes, nil
}

func parseRefsFromShowRef(out string) ([]Ref, error) {
	var refs []Ref
	tagAt := map[string]int{} // full tag ref name -> position in refs
	peeled := map[string]string{}
	for line := range strings.Lines(out) {
		fields := strings.Fields(line)
		switch len(fields) {
		case 0:
			continue
		case 2:
		default:
			return nil, fmt.Errorf("unexpected show-ref output line: %q", strings.TrimSpace(line))
		}
		hash, full := fields[0], fields[1]
		if base, ok := strings.CutSuffix(full, "^{}"); ok {
			peeled[base] = hash
			continue
		}
		ref, ok := shortRef(full, hash)
		if !ok {
			continue
		}
		if ref.Kind == RefKindTag {
			tagAt[full] = len(refs)
		}
		refs = append(refs, ref)
	}
	// Annotated tags point at the commit they peel to.
	for full, hash := range peeled {
		if i, ok := tagAt[full]; ok {
			refs[i].Hash = hash
		}
	}
	return refs, nil
}

// shortRef classifies a full ref name. Symbolic remote HEADs and refs outside heads,
// remotes and tags are skipped.
func shortRef(full, hash string) (Ref, bool) {
	prefixes := []struct {
		prefix string
		kind   RefKind
	}{
		{"refs/heads/", RefKindBranch},
		{"refs/remotes/", RefKindRemoteBranch},
		{"refs/tags/", RefKindTag},
	}
	for _, p := range prefixes {
		short, ok := strings.CutPrefix(full, p.prefix)
		if !ok {
			continue
		}
		if short == "" || (p.kind == RefKindRemoteBranch && strings.HasSuffix(short, "/HEAD")) {
			return Ref{}, false
		}
		return Ref{Hash: hash, Kind: p.kind, Name: short}, true
	}
	return Ref{}, false
}
