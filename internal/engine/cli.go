package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// CLI shells out to an external matching engine binary. Data-returning
// commands reply with a single JSON document on stdout; a non-zero exit
// or unparsable stdout is a hard failure.
type CLI struct {
	binary string
}

// NewCLI wraps the engine binary at path.
func NewCLI(path string) *CLI { return &CLI{binary: path} }

var _ Engine = (*CLI)(nil)

func (c *CLI) Enroll(ctx context.Context, galleryDir, dbDir string, dpi int) (string, error) {
	out, err := c.run(ctx,
		"enroll",
		"--gallery", galleryDir,
		"--db", dbDir,
		"--dpi", strconv.Itoa(dpi),
	)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *CLI) Identify(ctx context.Context, probePath, dbDir string, threshold float64, dpi int) (*IdentifyResult, error) {
	if err := checkProbe(probePath); err != nil {
		return nil, err
	}
	if err := checkDB(dbDir); err != nil {
		return nil, err
	}
	out, err := c.run(ctx,
		"identify",
		"--probe", probePath,
		"--db", dbDir,
		"--threshold", strconv.FormatFloat(threshold, 'f', -1, 64),
		"--dpi", strconv.Itoa(dpi),
	)
	if err != nil {
		return nil, err
	}
	return parseIdentify(out)
}

func (c *CLI) Calibrate(ctx context.Context, galleryDir, dbDir string, far float64, dpi int) (*CalibrateResult, error) {
	out, err := c.run(ctx,
		"calibrate",
		"--gallery", galleryDir,
		"--db", dbDir,
		"--far", strconv.FormatFloat(far, 'f', -1, 64),
		"--dpi", strconv.Itoa(dpi),
	)
	if err != nil {
		return nil, err
	}
	var payload struct {
		SuggestedThreshold float64 `json:"suggested_threshold"`
		TargetFAR          float64 `json:"target_far"`
		ImpostorPairs      int     `json:"impostor_pairs"`
	}
	if err := json.Unmarshal(firstJSON(out), &payload); err != nil {
		return nil, fmt.Errorf("%w: calibrate: %v", ErrBadEngineOutput, err)
	}
	return &CalibrateResult{
		SuggestedThreshold: payload.SuggestedThreshold,
		TargetFAR:          payload.TargetFAR,
		ImpostorPairs:      payload.ImpostorPairs,
	}, nil
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	if c.binary == "" {
		return nil, fmt.Errorf("%w: engine binary not configured", ErrConfigMissing)
	}
	if _, err := os.Stat(c.binary); err != nil {
		return nil, fmt.Errorf("%w: engine binary %s", ErrConfigMissing, c.binary)
	}

	cmd := commandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("%w: %s %s: %s", ErrEngineUnavailable, c.binary, args[0], detail)
	}
	return stdout.Bytes(), nil
}

// parseIdentify tolerates both match_id and matchId keys, and a match id
// that arrives as a JSON string, number, or null.
func parseIdentify(out []byte) (*IdentifyResult, error) {
	var raw map[string]any
	if err := json.Unmarshal(firstJSON(out), &raw); err != nil {
		return nil, fmt.Errorf("%w: identify: %v", ErrBadEngineOutput, err)
	}

	res := &IdentifyResult{}
	res.Score, _ = asFloat(raw["score"])
	res.Threshold, _ = asFloat(raw["threshold"])

	id, ok := raw["match_id"]
	if !ok {
		id = raw["matchId"]
	}
	switch v := id.(type) {
	case nil:
	case string:
		if v != "" {
			res.MatchID = &v
		}
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		res.MatchID = &s
	default:
		return nil, fmt.Errorf("%w: identify: match id of type %T", ErrBadEngineOutput, id)
	}
	return res, nil
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// firstJSON skips any log chatter the engine printed before the JSON
// document.
func firstJSON(out []byte) []byte {
	if i := bytes.IndexByte(out, '{'); i > 0 {
		return out[i:]
	}
	return out
}
