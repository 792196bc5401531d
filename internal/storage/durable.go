package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/jmgilman/go/errors"

	"github.com/thiagokokada/vcslog/internal/vcs"
)

const fileVersion = "1"

// Durable is a Memory store backed by a JSON file. Assignments are kept in memory and
// written on Flush.
type Durable struct {
	*Memory

	fs   billy.Filesystem
	path string

	saveMu sync.Mutex
	// counts written by the last Flush, or loaded from the file
	savedCommits, savedRefs int
}

type storedCommit struct {
	Hash string `json:"hash"`
	Root string `json:"root"`
}

type storedRef struct {
	Name string      `json:"name"`
	Hash string      `json:"hash"`
	Root string      `json:"root"`
	Type vcs.RefType `json:"type"`
}

type storeFile struct {
	Version string         `json:"version"`
	Commits []storedCommit `json:"commits"`
	Refs    []storedRef    `json:"refs"`
}

// OpenDurable loads the store at path, creating an empty one if the file does not exist.
// A file that cannot be parsed is reported as a CodeDatabase error.
func OpenDurable(fs billy.Filesystem, path string) (*Durable, error) {
	d := &Durable{Memory: NewMemory(), fs: fs, path: path}
	if _, err := fs.Stat(path); os.IsNotExist(err) {
		return d, nil
	}

	data, err := util.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to read identity store")
	}
	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeDatabase, "failed to parse identity store"), "path", path)
	}
	if file.Version != fileVersion {
		return nil, errors.Newf(errors.CodeDatabase, "unsupported identity store version: %s (expected %s)", file.Version, fileVersion)
	}

	for i, c := range file.Commits {
		if !plumbing.IsHash(c.Hash) {
			return nil, errors.Newf(errors.CodeDatabase, "invalid hash %q at commit %d", c.Hash, i)
		}
		d.addCommitLocked(vcs.CommitID{Hash: plumbing.NewHash(c.Hash), Root: c.Root})
	}
	for i, r := range file.Refs {
		if !plumbing.IsHash(r.Hash) {
			return nil, errors.Newf(errors.CodeDatabase, "invalid hash %q at ref %d", r.Hash, i)
		}
		d.addRefLocked(vcs.Ref{Name: r.Name, Hash: plumbing.NewHash(r.Hash), Root: r.Root, Type: r.Type})
	}
	d.savedCommits, d.savedRefs = len(d.commits), len(d.refs)
	return d, nil
}

// Flush writes the store atomically through a temporary file. Identities are only ever
// appended, so Flush does nothing when no identity was assigned since the last write.
func (d *Durable) Flush() error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	d.mu.RLock()
	if len(d.commits) == d.savedCommits && len(d.refs) == d.savedRefs {
		d.mu.RUnlock()
		return nil
	}
	file := storeFile{
		Version: fileVersion,
		Commits: make([]storedCommit, 0, len(d.commits)),
		Refs:    make([]storedRef, 0, len(d.refs)),
	}
	for _, c := range d.commits {
		file.Commits = append(file.Commits, storedCommit{Hash: c.Hash.String(), Root: c.Root})
	}
	for _, r := range d.refs {
		file.Refs = append(file.Refs, storedRef{Name: r.Name, Hash: r.Hash.String(), Root: r.Root, Type: r.Type})
	}
	d.mu.RUnlock()

	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal identity store: %w", err)
	}

	tmpPath := d.path + ".tmp"
	tmpFile, err := d.fs.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to create temporary identity store")
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		_ = d.fs.Remove(tmpPath)
		return errors.Wrap(err, errors.CodeDatabase, "failed to write temporary identity store")
	}
	if err := tmpFile.Close(); err != nil {
		_ = d.fs.Remove(tmpPath)
		return errors.Wrap(err, errors.CodeDatabase, "failed to close temporary identity store")
	}
	if err := d.fs.Rename(tmpPath, d.path); err != nil {
		_ = d.fs.Remove(tmpPath)
		return errors.Wrap(err, errors.CodeDatabase, "failed to rename identity store")
	}
	d.savedCommits, d.savedRefs = len(file.Commits), len(file.Refs)
	return nil
}

// Open returns a durable store, or a memory store when the durable one cannot be opened.
// onFallback is called once with the failure in that case.
func Open(fs billy.Filesystem, path string, onFallback func(error)) Store {
	if fs == nil {
		return NewMemory()
	}
	d, err := OpenDurable(fs, path)
	if err != nil {
		if onFallback != nil {
			onFallback(err)
		}
		return NewMemory()
	}
	return d
}
