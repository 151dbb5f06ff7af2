package service

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const manifestVersion = "1.0.0"

// Manifest is the archive's self-describing metadata record. It is the
// first entry written during export and the hard validation gate during
// restore.
type Manifest struct {
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	UserID    string            `json:"userId"`
	UserEmail string            `json:"userEmail,omitempty"`
	Username  string            `json:"username,omitempty"`
	Checksums map[string]string `json:"checksums"`
}

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidateManifest checks structural and semantic well-formedness before
// any archive data is trusted. Every failure aborts restore.
func ValidateManifest(m *Manifest) error {
	if m == nil {
		return fmt.Errorf("%w: manifest is missing", ErrInvalidBackup)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: manifest version is required", ErrInvalidBackup)
	}
	if m.Timestamp == "" {
		return fmt.Errorf("%w: manifest timestamp is required", ErrInvalidBackup)
	}
	if m.UserID == "" {
		return fmt.Errorf("%w: manifest userId is required", ErrInvalidBackup)
	}
	if m.Checksums == nil {
		return fmt.Errorf("%w: manifest checksums are required", ErrInvalidBackup)
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: version %q is not a semantic version", ErrInvalidBackup, m.Version)
	}
	if _, err := time.Parse(time.RFC3339, m.Timestamp); err != nil {
		return fmt.Errorf("%w: timestamp %q is not a valid date", ErrInvalidBackup, m.Timestamp)
	}
	if _, err := uuid.Parse(m.UserID); err != nil {
		return fmt.Errorf("%w: userId %q is not a UUID", ErrInvalidBackup, m.UserID)
	}
	return nil
}
