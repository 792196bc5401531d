package vcs

import (
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/vcslog/internal/graph"
)

// CommitID identifies a commit inside one repository root.
type CommitID struct {
	Hash plumbing.Hash
	Root string
}

func (id CommitID) String() string {
	return id.Root + "@" + id.Hash.String()
}

// TimedCommit is a graph record as produced by a log provider.
type TimedCommit = graph.Commit[plumbing.Hash]

type RefType uint8

const (
	RefTypeBranch RefType = iota
	RefTypeRemoteBranch
	RefTypeTag
)

func (t RefType) IsBranch() bool {
	return t == RefTypeBranch || t == RefTypeRemoteBranch
}

func (t RefType) String() string {
	switch t {
	case RefTypeBranch:
		return "branch"
	case RefTypeRemoteBranch:
		return "remote"
	case RefTypeTag:
		return "tag"
	default:
		return "unknown"
	}
}

type Ref struct {
	Name string // short name: main, origin/main, v1
	Hash plumbing.Hash
	Root string
	Type RefType
}

func (r Ref) CommitID() CommitID {
	return CommitID{Hash: r.Hash, Root: r.Root}
}

// CompareRefs orders branches before tags, then by name.
func CompareRefs(a, b Ref) int {
	if a.Type.IsBranch() != b.Type.IsBranch() {
		if a.Type.IsBranch() {
			return -1
		}
		return 1
	}
	switch {
	case a.Name < b.Name:
		return -1
	case a.Name > b.Name:
		return 1
	}
	return 0
}

type User struct {
	Name  string
	Email string
}

type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// ShortDetails is the list-display payload of a commit.
type ShortDetails struct {
	ID        CommitID
	Parents   []plumbing.Hash
	Author    Signature
	Subject   string
	Timestamp int64
}

func (d ShortDetails) CommitID() CommitID { return d.ID }

type ChangeKind uint8

const (
	ChangeModified ChangeKind = iota
	ChangeAdded
	ChangeDeleted
	ChangeRenamed
)

type Change struct {
	Kind    ChangeKind
	Path    string
	OldPath string
}

// FullDetails carries everything needed to show a commit, including its changed paths.
type FullDetails struct {
	ShortDetails
	Committer Signature
	Message   string
	Changes   []Change
}

func (d FullDetails) CommitID() CommitID { return d.ID }
