package server

import (
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Numanur/AFIS-fingerprint-identification/internal/frame"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/gallery"
)

// handleUpload ingests one raw sensor frame: decode, route, persist, and
// by default identify. Routing is driven entirely by headers so the
// capture firmware stays a dumb byte pump.
func (s *Server) handleUpload(c *fiber.Ctx) error {
	width, err := headerInt(c, "X-Width", s.cfg.Capture.Width)
	if err != nil {
		return fail(c, err)
	}
	height, err := headerInt(c, "X-Height", s.cfg.Capture.Height)
	if err != nil {
		return fail(c, err)
	}
	format := c.Get("X-Format", frame.FormatPacked4)

	img, err := frame.Decode(c.Body(), format, width, height)
	if err != nil {
		return fail(c, err)
	}

	mode := c.Get("X-Mode")
	personID := c.Get("X-Person-Id")
	dir, name, err := s.gallery.Route(mode, personID, c.Get("X-Filename"))
	if err != nil {
		return fail(c, err)
	}
	data, err := frame.EncodePNG(img)
	if err != nil {
		return fail(c, err)
	}
	path, err := s.gallery.SaveCapture(dir, name, data)
	if err != nil {
		return fail(c, err)
	}
	s.svc.RecordCapture(c.UserContext(), personID, path)
	s.log.Info("capture saved", "file", path, "mode", mode, "person_id", personID,
		"format", format, "request_id", c.Locals("request_id"))

	if c.Get("X-Identify", "1") == "0" {
		return c.SendString("next")
	}

	res, err := s.svc.Identify(c.UserContext(), path)
	if err != nil {
		// The capture stays on disk for manual recovery.
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"ok":     false,
			"error":  "identify failed",
			"detail": err.Error(),
			"file":   path,
		})
	}
	return c.JSON(fiber.Map{
		"ok":        true,
		"file":      path,
		"match_id":  res.MatchID,
		"score":     res.Score,
		"threshold": res.Threshold,
	})
}

func (s *Server) handleEnroll(c *fiber.Ctx) error {
	out, err := s.svc.Enroll(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "out": out})
}

func (s *Server) handleCalibrate(c *fiber.Ctx) error {
	far, err := queryFloat(c, "far", s.cfg.Engine.TargetFAR)
	if err != nil {
		return fail(c, err)
	}
	res, err := s.svc.Calibrate(c.UserContext(), far, true)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":                 true,
		"suggestedThreshold": res.SuggestedThreshold,
		"targetFAR":          res.TargetFAR,
		"impostorPairCount":  res.ImpostorPairs,
		"thresholdInUse":     s.svc.Thresholds.Current(),
	})
}

func (s *Server) handleClear(c *fiber.Ctx) error {
	if err := s.svc.Clear(c.UserContext()); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "cleared": true})
}

func (s *Server) handleRebuild(c *fiber.Ctx) error {
	far, err := queryFloat(c, "far", s.cfg.Engine.TargetFAR)
	if err != nil {
		return fail(c, err)
	}
	clear := c.Query("clear", "1") != "0"
	res, err := s.svc.Rebuild(c.UserContext(), far, clear, true)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":             true,
		"cleared":        res.Cleared,
		"enrollLog":      res.EnrollLog,
		"calibration":    res.Calibration,
		"thresholdInUse": res.ThresholdInUse,
	})
}

func (s *Server) handleIdentify(c *fiber.Ctx) error {
	var req struct {
		Path string `json:"path"`
	}
	if err := c.BodyParser(&req); err != nil || req.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok": false, "error": "body must be JSON with a non-empty \"path\"",
		})
	}
	res, err := s.svc.Identify(c.UserContext(), req.Path)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":        true,
		"matchId":   res.MatchID,
		"score":     res.Score,
		"threshold": res.Threshold,
		"file":      req.Path,
	})
}

func (s *Server) handleDebug(c *fiber.Ctx) error {
	dbDir := s.svc.TemplateDBDir()

	enginePath := "embedded"
	engineExists := true
	if s.cfg.Engine.Mode == "cli" {
		enginePath = s.cfg.Engine.Binary
		_, statErr := os.Stat(enginePath)
		engineExists = statErr == nil
	}
	_, dbErr := os.Stat(dbDir)

	out := fiber.Map{
		"engine":              enginePath,
		"engineExists":        engineExists,
		"db":                  dbDir,
		"dbExists":            dbErr == nil,
		"threshold":           s.svc.Thresholds.Current(),
		"thresholdFileExists": s.svc.Thresholds.PersistedExists(),
		"templateCount":       gallery.CountFiles(dbDir, ".tpl"),
		"identityCount":       s.gallery.IdentityCount(),
	}
	if s.journal != nil {
		if counts, err := s.journal.CountByKind(c.UserContext()); err == nil {
			out["events"] = counts
		}
	}
	return c.JSON(out)
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	if s.journal == nil {
		return c.JSON(fiber.Map{"ok": true, "events": []any{}})
	}
	limit, err := strconv.Atoi(c.Query("limit", "100"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "limit must be an integer"})
	}
	events, err := s.journal.Recent(c.UserContext(), limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "events": events})
}

func headerInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, key+" must be a positive integer")
	}
	return v, nil
}

func queryFloat(c *fiber.Ctx, key string, def float64) (float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || v >= 1 {
		return 0, fiber.NewError(fiber.StatusBadRequest, key+" must be a float in (0,1)")
	}
	return v, nil
}
