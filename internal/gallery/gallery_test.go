package gallery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteEnrollPrefix(t *testing.T) {
	s := NewStore(t.TempDir())

	dir, name, err := s.Route("detect", "42", "foo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root, "42"), dir)
	assert.Equal(t, "42_foo.png", name)
	assert.DirExists(t, dir)
}

func TestRouteNoDoublePrefix(t *testing.T) {
	s := NewStore(t.TempDir())

	_, name, err := s.Route("detect", "42", "42_foo")
	require.NoError(t, err)
	assert.Equal(t, "42_foo.png", name)
}

func TestRouteStripsExtension(t *testing.T) {
	s := NewStore(t.TempDir())

	_, name, err := s.Route("detect", "7", "scan.bmp")
	require.NoError(t, err)
	assert.Equal(t, "7_scan.png", name)
}

func TestRouteProbeIgnoresPersonID(t *testing.T) {
	s := NewStore(t.TempDir())

	dir, name, err := s.Route("cls", "42", "test_img_3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root, TestDir), dir)
	assert.Equal(t, "test_img_3.png", name)
}

func TestRouteInboxFallback(t *testing.T) {
	s := NewStore(t.TempDir())

	for _, pid := range []string{"", "bob", "12a", "-3"} {
		dir, _, err := s.Route("detect", pid, "x")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(s.Root, InboxDir), dir, "pid=%q", pid)
	}
}

func TestRouteDefaultBaseName(t *testing.T) {
	s := NewStore(t.TempDir())

	_, name, err := s.Route("cls", "", "")
	require.NoError(t, err)
	assert.Regexp(t, `^capture_[0-9]+\.png$`, name)
}

func TestRouteSanitizesPathTraversal(t *testing.T) {
	s := NewStore(t.TempDir())

	_, name, err := s.Route("detect", "9", "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "9_passwd.png", name)
}

func TestSaveCapture(t *testing.T) {
	s := NewStore(t.TempDir())
	dir, name, err := s.Route("detect", "5", "a")
	require.NoError(t, err)

	path, err := s.SaveCapture(dir, name, []byte("png-bytes"))
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestBuildStagingFiltersNonEnrollment(t *testing.T) {
	root := t.TempDir()
	write := func(parts ...string) {
		path := filepath.Join(append([]string{root}, parts...)...)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	write("7", "7_1.png")
	write("7", "7_2.png")
	write("7", "notes.txt") // non-canonical, skipped
	write("12", "12_1.png")
	write(TestDir, "3.png")    // probe area, never staged
	write(InboxDir, "44.png")  // unclassified, never staged
	write("personA", "9.png")  // non-numeric folder

	staging, err := BuildStaging(root, filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(staging, "7", "7_1.png"))
	assert.FileExists(t, filepath.Join(staging, "7", "7_2.png"))
	assert.FileExists(t, filepath.Join(staging, "12", "12_1.png"))
	assert.NoFileExists(t, filepath.Join(staging, "7", "notes.txt"))
	assert.NoDirExists(t, filepath.Join(staging, TestDir))
	assert.NoDirExists(t, filepath.Join(staging, InboxDir))
	assert.NoDirExists(t, filepath.Join(staging, "personA"))
}

func TestBuildStagingWipesPrevious(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "staging")
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "stale"), 0o755))

	_, err := BuildStaging(t.TempDir(), staging)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(staging, "stale"))
}

func TestBuildStagingMissingGallery(t *testing.T) {
	staging, err := BuildStaging(filepath.Join(t.TempDir(), "absent"), filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)
	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCountFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "7"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "7", "a.tpl"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "7", "b.tpl"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "7", "c.txt"), nil, 0o644))

	assert.Equal(t, 2, CountFiles(root, ".tpl"))
}
