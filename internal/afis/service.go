// Package afis composes the database lifecycle operations: enroll,
// identify, calibrate, clear, and rebuild against the matching engine,
// serialized so at most one mutating bulk operation runs at a time.
package afis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/Numanur/AFIS-fingerprint-identification/internal/config"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/engine"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/gallery"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/journal"
)

// ErrBusy reports a bulk operation rejected because another one is
// already running.
var ErrBusy = errors.New("afis: busy, a bulk operation is already running")

// RebuildResult is the outcome of a full rebuild.
type RebuildResult struct {
	Cleared        bool                    `json:"cleared"`
	EnrollLog      string                  `json:"enroll_log"`
	Calibration    *engine.CalibrateResult `json:"calibration"`
	ThresholdInUse float64                 `json:"threshold_in_use"`
}

// Service orchestrates the template database lifecycle. Enroll, Calibrate,
// Clear, and Rebuild are mutually exclusive: an in-process TryLock gate
// rejects concurrent callers with ErrBusy, and a file lock beside the
// database guards against a second process. Identify only reads and is
// not gated.
type Service struct {
	log        *slog.Logger
	eng        engine.Engine
	journal    *journal.Journal
	Thresholds *ThresholdStore

	galleryDir string
	stagingDir string
	dbDir      string
	dpi        int
	timeout    time.Duration

	gate sync.Mutex
	flk  *flock.Flock
}

// New wires a service from configuration and collaborators. journal may
// be nil.
func New(cfg *config.Config, eng engine.Engine, thresholds *ThresholdStore, j *journal.Journal, log *slog.Logger) *Service {
	return &Service{
		log:        log,
		eng:        eng,
		journal:    j,
		Thresholds: thresholds,
		galleryDir: cfg.Paths.GalleryDir,
		stagingDir: cfg.Paths.StagingDir,
		dbDir:      cfg.Paths.TemplateDBDir,
		dpi:        cfg.Engine.DPI,
		timeout:    time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
		flk:        flock.New(filepath.Clean(cfg.Paths.TemplateDBDir) + ".lock"),
	}
}

// TemplateDBDir exposes the database root for debug reporting.
func (s *Service) TemplateDBDir() string { return s.dbDir }

func (s *Service) acquire() (release func(), err error) {
	if !s.gate.TryLock() {
		return nil, ErrBusy
	}
	locked, err := s.flk.TryLock()
	if err != nil {
		s.gate.Unlock()
		return nil, fmt.Errorf("%w: db lock: %v", ErrBusy, err)
	}
	if !locked {
		s.gate.Unlock()
		return nil, fmt.Errorf("%w: another process holds the db lock", ErrBusy)
	}
	return func() {
		if err := s.flk.Unlock(); err != nil && s.log != nil {
			s.log.Warn("db lock release failed", "error", err)
		}
		s.gate.Unlock()
	}, nil
}

func (s *Service) engineCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Enroll stages the gallery and (re)derives all templates.
func (s *Service) Enroll(ctx context.Context) (string, error) {
	release, err := s.acquire()
	if err != nil {
		return "", err
	}
	defer release()
	return s.enrollLocked(ctx)
}

func (s *Service) enrollLocked(ctx context.Context) (string, error) {
	staging, err := gallery.BuildStaging(s.galleryDir, s.stagingDir)
	if err != nil {
		return "", err
	}
	defer gallery.RemoveStaging(staging, s.log)

	ectx, cancel := s.engineCtx(ctx)
	defer cancel()
	out, err := s.eng.Enroll(ectx, staging, s.dbDir, s.dpi)
	if err != nil {
		return "", err
	}
	s.record(ctx, journal.Event{Kind: journal.KindEnroll, Detail: out})
	return out, nil
}

// Calibrate stages the gallery, re-enrolls, and computes a threshold
// suggestion. With persist set, the suggestion becomes the threshold in
// use and is written to disk.
func (s *Service) Calibrate(ctx context.Context, far float64, persist bool) (*engine.CalibrateResult, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.calibrateLocked(ctx, far, persist)
}

func (s *Service) calibrateLocked(ctx context.Context, far float64, persist bool) (*engine.CalibrateResult, error) {
	staging, err := gallery.BuildStaging(s.galleryDir, s.stagingDir)
	if err != nil {
		return nil, err
	}
	defer gallery.RemoveStaging(staging, s.log)

	ectx, cancel := s.engineCtx(ctx)
	defer cancel()
	res, err := s.eng.Calibrate(ectx, staging, s.dbDir, far, s.dpi)
	if err != nil {
		return nil, err
	}
	if persist {
		s.Thresholds.Set(res.SuggestedThreshold)
	}
	s.record(ctx, journal.Event{
		Kind:      journal.KindCalibrate,
		Score:     res.SuggestedThreshold,
		Threshold: s.Thresholds.Current(),
		Detail:    fmt.Sprintf("far=%g pairs=%d persisted=%t", res.TargetFAR, res.ImpostorPairs, persist),
	})
	return res, nil
}

// Clear deletes and recreates the template database root. Canonical
// images are untouched.
func (s *Service) Clear(ctx context.Context) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return s.clearLocked(ctx)
}

func (s *Service) clearLocked(ctx context.Context) error {
	if err := os.RemoveAll(s.dbDir); err != nil {
		return fmt.Errorf("afis: clear %s: %w", s.dbDir, err)
	}
	if err := os.MkdirAll(s.dbDir, 0o755); err != nil {
		return fmt.Errorf("afis: recreate %s: %w", s.dbDir, err)
	}
	s.record(ctx, journal.Event{Kind: journal.KindClear})
	return nil
}

// Rebuild optionally clears, then enrolls, then calibrates under a single
// gate acquisition. A failed enroll aborts before calibration; a failed
// calibration leaves the freshly enrolled templates in place.
func (s *Service) Rebuild(ctx context.Context, far float64, clear, persist bool) (*RebuildResult, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	res := &RebuildResult{Cleared: clear}
	if clear {
		if err := s.clearLocked(ctx); err != nil {
			return nil, err
		}
	}

	out, err := s.enrollLocked(ctx)
	if err != nil {
		return nil, err
	}
	res.EnrollLog = out

	cal, err := s.calibrateLocked(ctx, far, persist)
	if err != nil {
		return nil, err
	}
	res.Calibration = cal
	res.ThresholdInUse = s.Thresholds.Current()

	s.record(ctx, journal.Event{
		Kind:      journal.KindRebuild,
		Threshold: res.ThresholdInUse,
		Detail:    fmt.Sprintf("cleared=%t far=%g", clear, far),
	})
	return res, nil
}

// Identify runs a one-shot best-match search for the probe at probePath
// using the threshold currently in effect.
func (s *Service) Identify(ctx context.Context, probePath string) (*engine.IdentifyResult, error) {
	threshold := s.Thresholds.Current()

	ectx, cancel := s.engineCtx(ctx)
	defer cancel()
	res, err := s.eng.Identify(ectx, probePath, s.dbDir, threshold, s.dpi)
	if err != nil {
		return nil, err
	}

	matched := ""
	if res.MatchID != nil {
		matched = *res.MatchID
	}
	s.record(ctx, journal.Event{
		Kind:      journal.KindIdentify,
		File:      probePath,
		MatchedID: matched,
		Score:     res.Score,
		Threshold: res.Threshold,
	})
	return res, nil
}

// RecordCapture journals a persisted capture.
func (s *Service) RecordCapture(ctx context.Context, personID, file string) {
	s.record(ctx, journal.Event{Kind: journal.KindCapture, PersonID: personID, File: file})
}

func (s *Service) record(ctx context.Context, ev journal.Event) {
	if err := s.journal.Record(ctx, ev); err != nil && s.log != nil {
		s.log.Warn("journal write failed", "kind", ev.Kind, "error", err)
	}
}
