// Package changes implements the Change Tracker (C8): content-hash and
// stat-based drift detection for files and directories, backed by a
// small key-value store keyed with the "D_"/"H_"/"S_" scheme.
//
// Three kinds of record live in the store:
//
//	D_<path>       the sorted list of basenames last recorded in a directory
//	H_<digest>_<path>  the last-recorded content digest of one file
//	S_<path>       the last-recorded stat snapshot of one file
//
// This mirrors the on-disk layout of the legacy changes database; the
// key prefixes are preserved so the migration path in pkg/store can
// recognize and convert records written by that older format.
package changes

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DigestKind names a supported content-hash algorithm. "best" defers to
// whatever the strongest available algorithm is (currently SHA512).
type DigestKind string

const (
	DigestMD5    DigestKind = "md5"
	DigestSHA1   DigestKind = "sha1"
	DigestSHA224 DigestKind = "sha224"
	DigestSHA256 DigestKind = "sha256"
	DigestSHA384 DigestKind = "sha384"
	DigestSHA512 DigestKind = "sha512"
	DigestBest   DigestKind = "best"
)

// ResolveDigestKind turns DigestBest into the concrete algorithm it
// currently means.
func ResolveDigestKind(kind DigestKind) DigestKind {
	if kind == DigestBest {
		return DigestSHA512
	}
	return kind
}

// StatSnapshot is the subset of file metadata the Change Tracker
// compares across runs to detect non-content drift.
type StatSnapshot struct {
	Mode    uint32
	UID     uint32
	GID     uint32
	Size    int64
	ModTime time.Time
}

// Equal reports whether two snapshots describe the same metadata.
func (s StatSnapshot) Equal(o StatSnapshot) bool {
	return s.Mode == o.Mode && s.UID == o.UID && s.GID == o.GID &&
		s.Size == o.Size && s.ModTime.Equal(o.ModTime)
}

// Store is the key-value contract the Change Tracker is built on.
// Implementations may back it with SQLite (pkg/store), a file, or
// memory (used by tests).
type Store interface {
	GetHash(digestKey string) (digest []byte, ok bool, err error)
	PutHash(digestKey string, digest []byte) error
	GetStat(path string) (StatSnapshot, bool, error)
	PutStat(path string, snap StatSnapshot) error
	GetDirectoryListing(path string) ([]string, bool, error)
	PutDirectoryListing(path string, basenames []string) error
	DeleteAll(path string) error
	AppendLog(entry LogEntry) error
}

// LogEntry is one append-only record in the change log: what changed,
// when, under which promise.
type LogEntry struct {
	Timestamp time.Time
	Handle    string
	Path      string
	State     FileState
	Message   string
}

// FileState classifies what kind of drift a LogEntry records.
type FileState rune

const (
	FileStateNew             FileState = 'N'
	FileStateRemoved         FileState = 'R'
	FileStateContentChanged  FileState = 'C'
	FileStateStatsChanged    FileState = 'S'
)

func (s FileState) String() string {
	switch s {
	case FileStateNew:
		return "new"
	case FileStateRemoved:
		return "removed"
	case FileStateContentChanged:
		return "content_changed"
	case FileStateStatsChanged:
		return "stats_changed"
	default:
		return "unknown"
	}
}

// digestKey builds the "H_" key for one (digest kind, path) pair.
func digestKey(kind DigestKind, path string) string {
	return fmt.Sprintf("H_%s_%s", ResolveDigestKind(kind), path)
}

// Tracker is the Change Tracker: it compares freshly computed digests,
// stats, and directory listings against what Store last recorded, and
// reports whether anything changed.
type Tracker struct {
	store Store
}

// New builds a Tracker backed by store.
func New(store Store) *Tracker {
	return &Tracker{store: store}
}

// HashResult reports the outcome of CheckAndUpdateHash.
type HashResult struct {
	FirstSeen bool // the file had no prior recorded digest
	Changed   bool // the digest differs from what was recorded
	Updated   bool // the store was written with the new digest
}

// CheckAndUpdateHash compares digest against the last value recorded
// for path under kind. If the file was never seen, or the digest
// changed and update is true, the store is updated with the new
// digest. Updating on first sight establishes the baseline rather than
// reporting a change.
func (t *Tracker) CheckAndUpdateHash(path string, kind DigestKind, digest []byte, update bool) (HashResult, error) {
	key := digestKey(kind, path)
	prior, found, err := t.store.GetHash(key)
	if err != nil {
		return HashResult{}, fmt.Errorf("changes: reading hash for %s: %w", path, err)
	}

	if !found {
		if err := t.store.PutHash(key, digest); err != nil {
			return HashResult{}, fmt.Errorf("changes: recording hash for %s: %w", path, err)
		}
		return HashResult{FirstSeen: true, Updated: true}, nil
	}

	changed := !hashEqual(prior, digest)
	if !changed {
		return HashResult{}, nil
	}

	if !update {
		return HashResult{Changed: true}, nil
	}
	if err := t.store.PutHash(key, digest); err != nil {
		return HashResult{}, fmt.Errorf("changes: updating hash for %s: %w", path, err)
	}
	return HashResult{Changed: true, Updated: true}, nil
}

func hashEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StatResult reports the outcome of CheckAndUpdateStats.
type StatResult struct {
	FirstSeen    bool
	Changed      bool
	ModeChanged  bool
	OwnerChanged bool
	Updated      bool
}

// CheckAndUpdateStats compares snap against the last recorded stat
// snapshot for path, reporting which facets changed. Like
// CheckAndUpdateHash, an unseen file establishes the baseline without
// reporting a change.
func (t *Tracker) CheckAndUpdateStats(path string, snap StatSnapshot, update bool) (StatResult, error) {
	prior, found, err := t.store.GetStat(path)
	if err != nil {
		return StatResult{}, fmt.Errorf("changes: reading stat for %s: %w", path, err)
	}
	if !found {
		if err := t.store.PutStat(path, snap); err != nil {
			return StatResult{}, fmt.Errorf("changes: recording stat for %s: %w", path, err)
		}
		return StatResult{FirstSeen: true, Updated: true}, nil
	}

	if prior.Equal(snap) {
		return StatResult{}, nil
	}

	result := StatResult{
		Changed:      true,
		ModeChanged:  prior.Mode != snap.Mode,
		OwnerChanged: prior.UID != snap.UID || prior.GID != snap.GID,
	}
	if update {
		if err := t.store.PutStat(path, snap); err != nil {
			return result, fmt.Errorf("changes: updating stat for %s: %w", path, err)
		}
		result.Updated = true
	}
	return result, nil
}

// DirectoryResult reports what changed in one directory's listing.
type DirectoryResult struct {
	NewFiles     []string
	RemovedFiles []string
	Changed      bool
	Updated      bool
}

// CheckAndUpdateDirectory diffs the current on-disk basenames in path
// against the last-recorded sorted listing, reporting new and removed
// entries. diskBasenames need not be pre-sorted. If update is true, the
// recorded listing is replaced with the current one.
func (t *Tracker) CheckAndUpdateDirectory(path string, diskBasenames []string, update bool) (DirectoryResult, error) {
	sorted := append([]string(nil), diskBasenames...)
	sort.Strings(sorted)

	priorList, found, err := t.store.GetDirectoryListing(path)
	if err != nil {
		return DirectoryResult{}, fmt.Errorf("changes: reading directory listing for %s: %w", path, err)
	}

	var result DirectoryResult
	if found {
		result.NewFiles, result.RemovedFiles = diffSortedLists(priorList, sorted)
		result.Changed = len(result.NewFiles) > 0 || len(result.RemovedFiles) > 0
	} else {
		result.NewFiles = sorted
		result.Changed = len(sorted) > 0
	}

	if update {
		if err := t.store.PutDirectoryListing(path, sorted); err != nil {
			return result, fmt.Errorf("changes: recording directory listing for %s: %w", path, err)
		}
		result.Updated = true
	}
	return result, nil
}

// diffSortedLists walks two sorted lists in merge order, classifying
// entries present only in "current" as new and entries present only
// in "prior" as removed.
func diffSortedLists(prior, current []string) (newFiles, removedFiles []string) {
	i, j := 0, 0
	for i < len(current) || j < len(prior) {
		switch {
		case i >= len(current):
			removedFiles = append(removedFiles, prior[j])
			j++
		case j >= len(prior):
			newFiles = append(newFiles, current[i])
			i++
		default:
			cmp := strings.Compare(current[i], prior[j])
			switch {
			case cmp < 0:
				newFiles = append(newFiles, current[i])
				i++
			case cmp > 0:
				removedFiles = append(removedFiles, prior[j])
				j++
			default:
				i++
				j++
			}
		}
	}
	return newFiles, removedFiles
}

// LogRemoval records that path was found missing on disk, then clears
// every record the store holds for it (hash, stat, and any nested
// directory listing), mirroring the legacy behavior of purging all
// traces of a removed file.
func (t *Tracker) LogRemoval(path, handle string, now time.Time) error {
	if err := t.store.AppendLog(LogEntry{Timestamp: now, Handle: handle, Path: path, State: FileStateRemoved, Message: "file removed"}); err != nil {
		return err
	}
	return t.store.DeleteAll(path)
}

// LogNewFile records that path was seen for the first time.
func (t *Tracker) LogNewFile(path, handle string, now time.Time) error {
	return t.store.AppendLog(LogEntry{Timestamp: now, Handle: handle, Path: path, State: FileStateNew, Message: "new file found"})
}

// LogContentChange records that path's content hash changed.
func (t *Tracker) LogContentChange(path, handle, message string, now time.Time) error {
	return t.store.AppendLog(LogEntry{Timestamp: now, Handle: handle, Path: path, State: FileStateContentChanged, Message: message})
}

// LogStatsChange records that path's metadata changed.
func (t *Tracker) LogStatsChange(path, handle, message string, now time.Time) error {
	return t.store.AppendLog(LogEntry{Timestamp: now, Handle: handle, Path: path, State: FileStateStatsChanged, Message: message})
}
