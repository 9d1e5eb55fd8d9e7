package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Numanur/AFIS-fingerprint-identification/internal/frame"
)

func TestSuggestThreshold(t *testing.T) {
	cases := []struct {
		name   string
		scores []float64
		far    float64
		want   float64
	}{
		{"documented quantile case", []float64{10, 20, 30, 40, 50}, 0.2, 40},
		{"unsorted input", []float64{50, 10, 40, 20, 30}, 0.2, 40},
		{"tight far picks the top", []float64{10, 20, 30, 40, 50}, 0.0001, 50},
		{"loose far picks the bottom", []float64{10, 20, 30, 40, 50}, 0.9999, 10},
		{"single score", []float64{33}, 0.01, 33},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SuggestThreshold(tc.scores, tc.far)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSuggestThresholdEmpty(t *testing.T) {
	_, ok := SuggestThreshold(nil, 0.01)
	assert.False(t, ok)
}

func TestParseIdentify(t *testing.T) {
	cases := []struct {
		name    string
		out     string
		wantID  string
		noMatch bool
	}{
		{"snake case", `{"match_id":"7","score":55.2,"threshold":40}`, "7", false},
		{"camel case", `{"matchId":"7","score":55.2,"threshold":40}`, "7", false},
		{"numeric id", `{"match_id":7,"score":55.2,"threshold":40}`, "7", false},
		{"null id", `{"match_id":null,"score":12.5,"threshold":40}`, "", true},
		{"log chatter before json", "loading db...\n{\"match_id\":\"3\",\"score\":61,\"threshold\":40}", "3", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := parseIdentify([]byte(tc.out))
			require.NoError(t, err)
			if tc.noMatch {
				assert.Nil(t, res.MatchID)
			} else {
				require.NotNil(t, res.MatchID)
				assert.Equal(t, tc.wantID, *res.MatchID)
			}
			assert.NotZero(t, res.Score)
		})
	}
}

func TestParseIdentifyGarbage(t *testing.T) {
	_, err := parseIdentify([]byte("segfault"))
	assert.ErrorIs(t, err, ErrBadEngineOutput)
}

func writeStubEngine(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestCLICalibrate(t *testing.T) {
	bin := writeStubEngine(t, `echo '{"suggested_threshold":42.5,"target_far":0.01,"impostor_pairs":120}'`)
	res, err := NewCLI(bin).Calibrate(context.Background(), "/g", "/db", 0.01, 500)
	require.NoError(t, err)
	assert.Equal(t, 42.5, res.SuggestedThreshold)
	assert.Equal(t, 0.01, res.TargetFAR)
	assert.Equal(t, 120, res.ImpostorPairs)
}

func TestCLIEnrollNonZeroExit(t *testing.T) {
	bin := writeStubEngine(t, "echo 'db locked' >&2\nexit 3")
	_, err := NewCLI(bin).Enroll(context.Background(), "/g", "/db", 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Contains(t, err.Error(), "db locked")
}

func TestCLICalibrateGarbageOutput(t *testing.T) {
	bin := writeStubEngine(t, "echo not-json")
	_, err := NewCLI(bin).Calibrate(context.Background(), "/g", "/db", 0.01, 500)
	assert.ErrorIs(t, err, ErrBadEngineOutput)
}

func TestCLIMissingBinary(t *testing.T) {
	_, err := NewCLI(filepath.Join(t.TempDir(), "absent")).Enroll(context.Background(), "/g", "/db", 500)
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestCLIIdentifyProbeChecks(t *testing.T) {
	bin := writeStubEngine(t, `echo '{"match_id":null,"score":0,"threshold":40}'`)
	cli := NewCLI(bin)

	_, err := cli.Identify(context.Background(), filepath.Join(t.TempDir(), "ghost.png"), t.TempDir(), 40, 500)
	assert.ErrorIs(t, err, ErrProbeNotFound)

	probe := filepath.Join(t.TempDir(), "probe.png")
	require.NoError(t, os.WriteFile(probe, []byte("png"), 0o644))
	_, err = cli.Identify(context.Background(), probe, filepath.Join(t.TempDir(), "nodb"), 40, 500)
	assert.ErrorIs(t, err, ErrDBMissing)
}

func writeCapturePNG(t *testing.T, path string) {
	t.Helper()
	img := &frame.Image{Width: 4, Height: 4, Pixels: make([]byte, 16)}
	for i := range img.Pixels {
		img.Pixels[i] = byte(i * 16)
	}
	data, err := frame.EncodePNG(img)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestTemplateEnvelopeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "7_1.png")
	writeCapturePNG(t, src)

	dst := filepath.Join(dir, "7_1.tpl")
	require.NoError(t, writeTemplate(src, dst, 500))

	env, err := readTemplate(dst)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, 500, env.DPI)
	assert.Equal(t, 4, env.Width)
	assert.Equal(t, 4, env.Height)
	assert.Len(t, env.Pixels, 16)
}

func TestReadTemplateCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tpl")
	require.NoError(t, os.WriteFile(path, []byte("not cbor"), 0o644))
	_, err := readTemplate(path)
	assert.Error(t, err)
}

func TestEmbeddedEnrollWritesTemplates(t *testing.T) {
	galleryDir := t.TempDir()
	writeCapturePNG(t, filepath.Join(galleryDir, "7", "7_1.png"))
	writeCapturePNG(t, filepath.Join(galleryDir, "7", "7_2.png"))
	writeCapturePNG(t, filepath.Join(galleryDir, "12", "12_1.png"))
	// Non-numeric folders are not enrolled even inside a staging tree.
	writeCapturePNG(t, filepath.Join(galleryDir, "stray", "x.png"))

	dbDir := t.TempDir()
	eng := NewEmbedded(40, nil)
	out, err := eng.Enroll(context.Background(), galleryDir, dbDir, 500)
	require.NoError(t, err)
	assert.Contains(t, out, "enrolled 3 image(s)")

	assert.FileExists(t, filepath.Join(dbDir, "7", "7_1.tpl"))
	assert.FileExists(t, filepath.Join(dbDir, "7", "7_2.tpl"))
	assert.FileExists(t, filepath.Join(dbDir, "12", "12_1.tpl"))
	assert.NoDirExists(t, filepath.Join(dbDir, "stray"))
}

func TestEmbeddedIdentifyMissingInputs(t *testing.T) {
	eng := NewEmbedded(40, nil)

	_, err := eng.Identify(context.Background(), filepath.Join(t.TempDir(), "ghost.png"), t.TempDir(), 40, 500)
	assert.ErrorIs(t, err, ErrProbeNotFound)

	probe := filepath.Join(t.TempDir(), "probe.png")
	writeCapturePNG(t, probe)
	_, err = eng.Identify(context.Background(), probe, filepath.Join(t.TempDir(), "nodb"), 40, 500)
	assert.ErrorIs(t, err, ErrDBMissing)
}

func TestEmbeddedCalibrateFallback(t *testing.T) {
	// No enrolled identities means no impostor pairs; the conservative
	// default applies instead of an error.
	galleryDir := t.TempDir()
	writeCapturePNG(t, filepath.Join(galleryDir, "test", "test_img_1.png"))
	writeCapturePNG(t, filepath.Join(galleryDir, "inbox", "stray.png"))

	eng := NewEmbedded(40, nil)
	res, err := eng.Calibrate(context.Background(), galleryDir, t.TempDir(), 0.01, 500)
	require.NoError(t, err)
	assert.Equal(t, 40.0, res.SuggestedThreshold)
	assert.Equal(t, 0.01, res.TargetFAR)
	assert.Equal(t, 0, res.ImpostorPairs)
}
