// Package snapshot saves point-in-time copies of the fragment store to the
// data directory and restores them.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/cameronsjo/rigging/internal/fileutil"
	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/store"
)

const (
	// Prefix is the file name prefix of snapshots taken on request.
	Prefix = "snapshot-"
	// PreRestorePrefix is the file name prefix of the backup taken before a restore.
	PreRestorePrefix = "pre-restore-"
	// Ext is the snapshot file extension.
	Ext = ".yaml"
	// DateFormat is the timestamp format used in snapshot names. Nanoseconds
	// keep two snapshots taken in the same second apart.
	DateFormat = "20060102-150405.000000000"
	// MaxSnapshots is the maximum number of snapshots to retain.
	MaxSnapshots = 20
	// MinFreeDiskBytes is the free space required beyond the snapshot itself (10MB).
	MinFreeDiskBytes = 10 * 1024 * 1024
)

// Info describes one snapshot file.
type Info struct {
	Name       string
	Path       string
	Created    time.Time
	Profiles   int
	Composites int
}

// Contents is the on-disk form of a snapshot.
type Contents struct {
	CreatedAt  time.Time                     `yaml:"created_at"`
	Profiles   []*manifest.Profile           `yaml:"profiles"`
	Composites []*manifest.CompositeResource `yaml:"composites"`
}

// RestoreResult reports what Restore did.
type RestoreResult struct {
	// Backup names the pre-restore snapshot, empty when the store was empty.
	Backup     string
	Profiles   int
	Composites int
}

// Dir returns the snapshots directory inside a data directory.
func Dir(dataDir string) string {
	return filepath.Join(dataDir, "snapshots")
}

// Create writes a snapshot of every profile and composite in s.
// Returns nil if the store is empty.
func Create(ctx context.Context, s store.Store, dataDir string) (*Info, error) {
	info, err := create(ctx, s, dataDir, Prefix)
	if err != nil || info == nil {
		return info, err
	}

	if err := Cleanup(dataDir); err != nil {
		return info, fmt.Errorf("snapshot %s written but cleanup failed: %w", info.Name, err)
	}
	return info, nil
}

func create(ctx context.Context, s store.Store, dataDir, prefix string) (*Info, error) {
	contents, err := collect(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(contents.Profiles) == 0 && len(contents.Composites) == 0 {
		return nil, nil
	}

	data, err := manifest.ToYAML(contents)
	if err != nil {
		return nil, err
	}

	dir := Dir(dataDir)
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	if err := checkDiskSpace(dir, int64(len(data))+MinFreeDiskBytes); err != nil {
		return nil, fmt.Errorf("insufficient disk space for snapshot: %w", err)
	}

	name := prefix + contents.CreatedAt.Format(DateFormat) + Ext
	path := filepath.Join(dir, name)
	if err := fileutil.WriteFileAtomic(path, data, 0600); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	return &Info{
		Name:       name,
		Path:       path,
		Created:    contents.CreatedAt,
		Profiles:   len(contents.Profiles),
		Composites: len(contents.Composites),
	}, nil
}

func collect(ctx context.Context, s store.Store) (*Contents, error) {
	profiles, err := s.ListProfiles(ctx, store.ProfileFilter{})
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	composites, err := s.ListComposites(ctx, store.CompositeFilter{})
	if err != nil {
		return nil, fmt.Errorf("list composites: %w", err)
	}
	return &Contents{
		CreatedAt:  time.Now().UTC(),
		Profiles:   profiles,
		Composites: composites,
	}, nil
}

// List returns available snapshots sorted by date (newest first).
func List(dataDir string) ([]Info, error) {
	dir := Dir(dataDir)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshots directory: %w", err)
	}

	var snapshots []Info
	for _, entry := range entries {
		prefix, ok := snapshotPrefix(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info := Info{Name: entry.Name(), Path: path}

		stamp := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), prefix), Ext)
		if created, err := time.Parse(DateFormat, stamp); err == nil {
			info.Created = created
		} else if fi, err := entry.Info(); err == nil {
			info.Created = fi.ModTime()
		}

		// An unreadable file is still listed so it can be inspected or removed.
		if contents, err := Read(path); err == nil {
			info.Profiles = len(contents.Profiles)
			info.Composites = len(contents.Composites)
		}

		snapshots = append(snapshots, info)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Created.After(snapshots[j].Created)
	})
	return snapshots, nil
}

func snapshotPrefix(name string) (string, bool) {
	if !strings.HasSuffix(name, Ext) {
		return "", false
	}
	for _, prefix := range []string{Prefix, PreRestorePrefix} {
		if strings.HasPrefix(name, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// Read loads a snapshot file.
func Read(path string) (*Contents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var contents Contents
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", filepath.Base(path), err)
	}
	return &contents, nil
}

// Restore replaces the contents of s with a snapshot. A pre-restore snapshot
// of the current contents is written first. Restored resources keep their
// ids; versions and timestamps start over.
func Restore(ctx context.Context, s store.Store, dataDir, name string) (*RestoreResult, error) {
	if _, ok := snapshotPrefix(name); !ok || filepath.Base(name) != name {
		return nil, manifest.NewValidationError("snapshot", fmt.Sprintf("invalid snapshot name %q", name))
	}
	path := filepath.Join(Dir(dataDir), name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("snapshot %s: %w", name, manifest.ErrNotFound)
	}

	contents, err := Read(path)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}
	backup, err := create(ctx, s, dataDir, PreRestorePrefix)
	if err != nil {
		return nil, fmt.Errorf("create pre-restore backup: %w", err)
	}
	if backup != nil {
		result.Backup = backup.Name
	}

	if err := clearStore(ctx, s); err != nil {
		return result, fmt.Errorf("clear store: %w", err)
	}

	if err := restoreProfiles(ctx, s, contents.Profiles); err != nil {
		return result, err
	}
	result.Profiles = len(contents.Profiles)

	for _, c := range contents.Composites {
		cp := c.Clone()
		cp.Version = 0
		if _, err := s.SaveComposite(ctx, cp); err != nil {
			return result, fmt.Errorf("restore composite %s: %w", c.ID, err)
		}
		result.Composites++
	}
	return result, nil
}

// clearStore deletes every composite, then every profile, releasing includes
// before the profiles they point at.
func clearStore(ctx context.Context, s store.Store) error {
	composites, err := s.ListComposites(ctx, store.CompositeFilter{})
	if err != nil {
		return err
	}
	for _, c := range composites {
		if err := s.DeleteComposite(ctx, c.ID); err != nil {
			return err
		}
	}

	remaining, err := s.ListProfiles(ctx, store.ProfileFilter{})
	if err != nil {
		return err
	}
	for len(remaining) > 0 {
		var blocked []*manifest.Profile
		for _, p := range remaining {
			err := s.DeleteProfile(ctx, p.Category, p.ID)
			var dependents *manifest.DependentsExistError
			switch {
			case err == nil:
			case errors.As(err, &dependents):
				blocked = append(blocked, p)
			default:
				return err
			}
		}
		if len(blocked) == len(remaining) {
			return fmt.Errorf("%d profile(s) are still referenced", len(blocked))
		}
		remaining = blocked
	}
	return nil
}

// restoreProfiles saves profiles so that every include exists before the
// profile that includes it.
func restoreProfiles(ctx context.Context, s store.Store, profiles []*manifest.Profile) error {
	done := make(map[string]bool, len(profiles))
	pending := profiles
	for len(pending) > 0 {
		var next []*manifest.Profile
		for _, p := range pending {
			if !includesDone(p, done) {
				next = append(next, p)
				continue
			}
			cp := p.Clone()
			cp.Version = 0
			if _, err := s.PutProfile(ctx, cp); err != nil {
				return fmt.Errorf("restore profile %s: %w", p.ID, err)
			}
			done[p.ID] = true
		}
		if len(next) == len(pending) {
			return &manifest.MissingProfileError{ProfileID: firstMissing(next[0], done), Category: next[0].Category}
		}
		pending = next
	}
	return nil
}

func includesDone(p *manifest.Profile, done map[string]bool) bool {
	return firstMissing(p, done) == ""
}

func firstMissing(p *manifest.Profile, done map[string]bool) string {
	for _, inc := range p.Includes {
		if !done[inc] {
			return inc
		}
	}
	return ""
}

// Cleanup removes snapshots beyond the retention limit.
// Continues deleting even if individual removals fail, returning a summary of all errors.
func Cleanup(dataDir string) error {
	snapshots, err := List(dataDir)
	if err != nil {
		return err
	}

	if len(snapshots) <= MaxSnapshots {
		return nil
	}

	var errs []string
	for _, snap := range snapshots[MaxSnapshots:] {
		if err := removeWithRetry(snap.Path, 3); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", snap.Name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to remove %d snapshot(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// checkDiskSpace checks if there's enough disk space available.
func checkDiskSpace(dir string, requiredBytes int64) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}

	available := int64(stat.Bavail) * int64(stat.Bsize)
	if available < requiredBytes {
		return fmt.Errorf("need %d bytes, only %d available", requiredBytes, available)
	}
	return nil
}

// removeWithRetry attempts to remove a file with retries for transient failures.
func removeWithRetry(path string, maxRetries int) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			lastErr = err
			// 10ms, 20ms, 40ms
			time.Sleep(time.Duration(10*(1<<i)) * time.Millisecond)
			continue
		}
		return nil
	}
	return lastErr
}
