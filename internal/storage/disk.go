package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DatabaseFiles lists the files a backend keeps at path, including SQLite's
// write-ahead log and shared-memory files.
func DatabaseFiles(backend, path string) []string {
	if backend == "bolt" {
		return []string{path}
	}
	return []string{path, path + "-wal", path + "-shm"}
}

// DiskUsageBytes sums the size of the given files and directories.
// Missing paths contribute 0.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
