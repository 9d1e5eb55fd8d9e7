// Package gallery owns the on-disk identity database: per-person folders
// of canonical capture images, the probe/unclassified areas, and the
// ephemeral staging tree consumed by bulk engine operations.
package gallery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Numanur/AFIS-fingerprint-identification/internal/frame"
)

// Ext is the canonical image extension for everything the store writes.
const Ext = frame.Ext

// Non-enrollment areas inside the gallery root.
const (
	TestDir  = "test"
	InboxDir = "inbox"
)

var numericID = regexp.MustCompile(`^[0-9]+$`)

// IsNumericID reports whether s is a valid person id.
func IsNumericID(s string) bool { return numericID.MatchString(s) }

// Store routes and persists canonical captures under a single root.
type Store struct {
	Root string
}

// NewStore returns a store rooted at root.
func NewStore(root string) *Store { return &Store{Root: root} }

// Route decides where a decoded capture lands. Probe captures (mode "cls")
// go to the test area regardless of person id; captures tagged with a
// numeric person id go to that person's folder with the id forced as a
// filename prefix; anything else goes to the inbox. The destination
// directory is created if missing.
func (s *Store) Route(mode, personID, baseName string) (dir, filename string, err error) {
	base := cleanBase(baseName)
	if base == "" {
		base = fmt.Sprintf("capture_%d", time.Now().UnixNano())
	}

	switch {
	case strings.EqualFold(mode, "cls"):
		dir = filepath.Join(s.Root, TestDir)
	case IsNumericID(personID):
		dir = filepath.Join(s.Root, personID)
		if !strings.HasPrefix(base, personID+"_") {
			base = personID + "_" + base
		}
	default:
		dir = filepath.Join(s.Root, InboxDir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("gallery: create %s: %w", dir, err)
	}
	return dir, base + Ext, nil
}

// SaveCapture writes encoded image bytes to dir/filename and returns the
// full path.
func (s *Store) SaveCapture(dir, filename string, data []byte) (string, error) {
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("gallery: write %s: %w", path, err)
	}
	return path, nil
}

// IdentityCount counts numeric person folders under the gallery root.
func (s *Store) IdentityCount() int {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && IsNumericID(e.Name()) {
			n++
		}
	}
	return n
}

// CountFiles walks root counting regular files with the given extension.
// Used by the debug endpoint to count templates in the database tree.
func CountFiles(root, ext string) int {
	n := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			n++
		}
		return nil
	})
	return n
}

// cleanBase strips any directory component and extension from a
// caller-supplied base name so header input cannot escape the gallery.
func cleanBase(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
