// Package fileid derives the stable identifier under which an ingested file is recorded.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

const prefix = "file:"

// FileDocID returns "file:" plus the hex SHA-256 of the cleaned path.
// Callers pass absolute paths so the same file always maps to one record.
func FileDocID(absolutePath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(absolutePath)))
	return prefix + hex.EncodeToString(sum[:])
}

// Resolve makes path absolute and returns it along with its FileDocID.
func Resolve(path string) (string, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, FileDocID(abs), nil
}
