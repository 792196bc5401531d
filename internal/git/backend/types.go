package backend

import "time"

type Signature struct {
	Name  string
	Email string
	When  time.Time
}

type Commit struct {
	Hash         string
	ParentHashes []string
	Author       Signature
	Committer    Signature
	Message      string
}

// ChangeStatus is the single-letter status git reports for a changed path (A, M, D, R, C, T).
type ChangeStatus byte

const (
	ChangeAdded    ChangeStatus = 'A'
	ChangeModified ChangeStatus = 'M'
	ChangeDeleted  ChangeStatus = 'D'
	ChangeRenamed  ChangeStatus = 'R'
	ChangeCopied   ChangeStatus = 'C'
	ChangeType     ChangeStatus = 'T'
)

type Change struct {
	Status  ChangeStatus
	Path    string
	OldPath string // set for renames and copies
}

type RefKind uint8

const (
	RefKindBranch RefKind = iota
	RefKindRemoteBranch
	RefKindTag
)

type Ref struct {
	Hash string
	Kind RefKind
	Name string // short name: main, origin/main, v1
}

// LogOptions selects the commits a log stream walks.
type LogOptions struct {
	// Revs are the starting points; empty means every ref.
	Revs []string
	// MaxCount stops the stream after that many commits; 0 means unlimited.
	MaxCount int
	// Paths restricts the walk to commits touching these paths.
	Paths []string
}

type User struct {
	Name  string
	Email string
}
