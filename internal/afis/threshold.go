package afis

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// thresholdFile is the persisted form of the decision threshold.
type thresholdFile struct {
	Threshold float64 `json:"threshold"`
}

// ThresholdStore holds the process-wide decision threshold with disk
// persistence. The in-memory value is authoritative for the process
// lifetime; disk is read once at construction and rewritten on every
// accepted calibration. Save failures are logged and non-fatal.
type ThresholdStore struct {
	mu    sync.RWMutex
	path  string
	value float64
	log   *slog.Logger
}

// NewThresholdStore loads the persisted threshold from path, falling back
// to def when the file is absent or unreadable.
func NewThresholdStore(path string, def float64, log *slog.Logger) *ThresholdStore {
	s := &ThresholdStore{path: path, value: def, log: log}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && log != nil {
			log.Warn("threshold file unreadable, using default", "path", path, "error", err)
		}
		return s
	}
	var f thresholdFile
	if err := json.Unmarshal(data, &f); err != nil {
		if log != nil {
			log.Warn("threshold file corrupt, using default", "path", path, "error", err)
		}
		return s
	}
	s.value = f.Threshold
	return s
}

// Current returns the threshold in effect.
func (s *ThresholdStore) Current() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set updates the in-memory threshold and rewrites the persisted file.
// A failed write leaves the in-memory value in effect.
func (s *ThresholdStore) Set(v float64) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()

	data, err := json.Marshal(thresholdFile{Threshold: v})
	if err == nil {
		err = os.WriteFile(s.path, data, 0o644)
	}
	if err != nil && s.log != nil {
		s.log.Warn("threshold persist failed, in-memory value remains in effect",
			"path", s.path, "error", err)
	}
}

// PersistedExists reports whether a threshold file is present on disk.
func (s *ThresholdStore) PersistedExists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
