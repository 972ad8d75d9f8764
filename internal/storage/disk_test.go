package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "kiku.db")
	if err := os.WriteFile(file, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "models")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"a": "ab", "b": "c"} {
		if err := os.WriteFile(filepath.Join(sub, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{file}, 5},
		{"directory", []string{sub}, 3},
		{"file and directory", []string{file, sub}, 8},
		{"missing path contributes nothing", []string{file, filepath.Join(dir, "kiku.db-wal"), sub}, 8},
		{"empty path skipped", []string{"", file}, 5},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("DiskUsageBytes(%v) = %d, want %d", tt.paths, got, tt.want)
			}
		})
	}
}

func TestDatabaseFiles(t *testing.T) {
	tests := []struct {
		backend string
		want    []string
	}{
		{"bolt", []string{"/x/kiku.bolt"}},
		{"sqlite", []string{"/x/kiku.bolt", "/x/kiku.bolt-wal", "/x/kiku.bolt-shm"}},
	}
	for _, tt := range tests {
		if got := DatabaseFiles(tt.backend, "/x/kiku.bolt"); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("DatabaseFiles(%s) = %v, want %v", tt.backend, got, tt.want)
		}
	}
}

func TestDiskUsageOfBackend(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{"sqlite", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "kiku.db")
			s, err := Open(backend, path)
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()
			if err := s.AppendEntries(ctx, "docs", batchOf(0, "one", "two", "three")); err != nil {
				t.Fatal(err)
			}
			got, err := DiskUsageBytes(DatabaseFiles(backend, path)...)
			if err != nil {
				t.Fatal(err)
			}
			if got <= 0 {
				t.Errorf("disk usage = %d, want > 0 after an append", got)
			}
		})
	}
}
