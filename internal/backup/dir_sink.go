package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirSink keeps snapshots as files in a local directory.
type DirSink struct {
	dir string
}

// NewDirSink creates the directory if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

// Put writes the snapshot to a temp file and renames it into place.
func (d *DirSink) Put(ctx context.Context, name string, data []byte) error {
	tmp, err := os.CreateTemp(d.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

func (d *DirSink) Get(ctx context.Context, name string) ([]byte, error) {
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid snapshot name %q", name)
	}
	return os.ReadFile(filepath.Join(d.dir, name))
}

// List lists snapshot files, newest first. Other files are ignored.
func (d *DirSink) List(ctx context.Context) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		takenAt, ok := parseSnapshotName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // Skip files we can't stat
		}
		snapshots = append(snapshots, SnapshotInfo{
			Name:    entry.Name(),
			TakenAt: takenAt,
			Size:    info.Size(),
		})
	}

	sortNewestFirst(snapshots)
	return snapshots, nil
}

func (d *DirSink) Delete(ctx context.Context, name string) error {
	if filepath.Base(name) != name {
		return fmt.Errorf("invalid snapshot name %q", name)
	}
	return os.Remove(filepath.Join(d.dir, name))
}

func (d *DirSink) Location() string { return d.dir }
