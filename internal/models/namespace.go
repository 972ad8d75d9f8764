package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MaxNamespaceLength is the longest accepted namespace, in bytes.
const MaxNamespaceLength = 200

// ValidateNamespace checks that ns is usable as a namespace key.
func ValidateNamespace(ns string) error {
	if strings.TrimSpace(ns) == "" {
		return fmt.Errorf("%w: namespace is required", ErrValidation)
	}
	if len(ns) > MaxNamespaceLength {
		return fmt.Errorf("%w: namespace longer than %d bytes", ErrValidation, MaxNamespaceLength)
	}
	if !utf8.ValidString(ns) {
		return fmt.Errorf("%w: namespace is not valid UTF-8", ErrValidation)
	}
	for _, r := range ns {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: namespace contains control characters", ErrValidation)
		}
	}
	return nil
}

// NamespaceInfo describes a namespace with durable state.
type NamespaceInfo struct {
	Name       string    `json:"name"`
	Dimensions int       `json:"dimensions"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
}
