package gallery

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// BuildStaging materializes a filtered copy of the gallery under
// stagingRoot: only numeric person folders, only canonical images. The
// test and inbox areas are never traversed. Any previous staging tree is
// wiped first, so a crash mid-build self-heals on the next call.
func BuildStaging(galleryRoot, stagingRoot string) (string, error) {
	_ = os.RemoveAll(stagingRoot)
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return "", fmt.Errorf("gallery: create staging %s: %w", stagingRoot, err)
	}

	entries, err := os.ReadDir(galleryRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return stagingRoot, nil
		}
		return "", fmt.Errorf("gallery: read %s: %w", galleryRoot, err)
	}

	for _, e := range entries {
		if !e.IsDir() || !IsNumericID(e.Name()) {
			continue
		}
		src := filepath.Join(galleryRoot, e.Name())
		dst := filepath.Join(stagingRoot, e.Name())
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return "", fmt.Errorf("gallery: create %s: %w", dst, err)
		}
		if err := copyCanonical(src, dst); err != nil {
			return "", err
		}
	}
	return stagingRoot, nil
}

// RemoveStaging deletes a staging tree, best effort. Failure is logged
// and swallowed; the next BuildStaging wipes leftovers anyway.
func RemoveStaging(stagingRoot string, log *slog.Logger) {
	if err := os.RemoveAll(stagingRoot); err != nil && log != nil {
		log.Warn("staging cleanup failed", "path", stagingRoot, "error", err)
	}
}

func copyCanonical(srcDir, dstDir string) error {
	files, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("gallery: read %s: %w", srcDir, err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), Ext) {
			continue
		}
		if err := copyFile(filepath.Join(srcDir, f.Name()), filepath.Join(dstDir, f.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("gallery: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("gallery: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("gallery: copy %s: %w", dst, err)
	}
	return out.Close()
}
