// Package engine is the matcher capability boundary. It defines the
// operations the rest of the service needs from a fingerprint matching
// engine and ships two implementations: an in-process one built on
// sourceafis and an adapter for an external engine binary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrConfigMissing reports a required engine executable or database
	// path that is absent.
	ErrConfigMissing = errors.New("engine: required path missing")
	// ErrEngineUnavailable reports a failed spawn or non-zero exit of the
	// external engine.
	ErrEngineUnavailable = errors.New("engine: unavailable")
	// ErrBadEngineOutput reports unparsable output from the engine.
	ErrBadEngineOutput = errors.New("engine: unparsable output")
	// ErrProbeNotFound reports a probe path that does not exist.
	ErrProbeNotFound = errors.New("engine: probe not found")
	// ErrDBMissing reports a template database root that does not exist.
	ErrDBMissing = errors.New("engine: template database missing")
)

// IdentifyResult is the outcome of a one-shot identification. MatchID is
// nil when the best score fell below the threshold; Score and Threshold
// are still reported for diagnostics.
type IdentifyResult struct {
	MatchID   *string `json:"match_id"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
}

// CalibrateResult carries a suggested decision threshold derived from the
// impostor-score distribution. Persisting it is the caller's decision.
type CalibrateResult struct {
	SuggestedThreshold float64 `json:"suggested_threshold"`
	TargetFAR          float64 `json:"target_far"`
	ImpostorPairs      int     `json:"impostor_pairs"`
}

// Engine is the capability contract against the matching engine. All
// methods honor ctx cancellation and deadlines.
type Engine interface {
	// Enroll (re)derives templates for every image under galleryDir into
	// dbDir, overwriting by filename. Returns engine log text.
	Enroll(ctx context.Context, galleryDir, dbDir string, dpi int) (string, error)
	// Identify runs a best-match search of probePath against dbDir.
	Identify(ctx context.Context, probePath, dbDir string, threshold float64, dpi int) (*IdentifyResult, error)
	// Calibrate re-enrolls galleryDir and computes a threshold suggestion
	// from cross-identity comparisons.
	Calibrate(ctx context.Context, galleryDir, dbDir string, far float64, dpi int) (*CalibrateResult, error)
}

func checkProbe(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrProbeNotFound, path)
	}
	return nil
}

func checkDB(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrDBMissing, path)
	}
	return nil
}
