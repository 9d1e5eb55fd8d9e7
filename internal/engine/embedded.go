package engine

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/fxamacker/cbor/v2"
	sourceafis "github.com/miqdadyyy/go-sourceafis"
	safisconfig "github.com/miqdadyyy/go-sourceafis/config"
	"github.com/miqdadyyy/go-sourceafis/templates"

	"github.com/Numanur/AFIS-fingerprint-identification/internal/frame"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/gallery"
)

// TemplateExt is the extension of persisted template blobs.
const TemplateExt = ".tpl"

var loadMatcherConfig sync.Once

// envelope is the embedded engine's on-disk template format: a CBOR
// wrapper around the canonical raster it was extracted from. The in-memory
// search template is derived on demand and cached by file identity.
type envelope struct {
	Version int    `cbor:"v"`
	DPI     int    `cbor:"dpi"`
	Width   int    `cbor:"w"`
	Height  int    `cbor:"h"`
	Pixels  []byte `cbor:"px"`
}

type cachedTemplate struct {
	mod  time.Time
	size int64
	tpl  *templates.SearchTemplate
}

// transparencyContents discards sourceafis transparency data.
type transparencyContents struct{}

func (transparencyContents) Accepts(key string) bool                  { return false }
func (transparencyContents) Accept(key, mime string, data []byte) error { return nil }

// Embedded is the in-process matching engine built on sourceafis.
type Embedded struct {
	log              *slog.Logger
	defaultThreshold float64
	creator          *sourceafis.TemplateCreator

	mu    sync.Mutex
	cache map[string]*cachedTemplate
}

var _ Engine = (*Embedded)(nil)

// NewEmbedded builds the in-process engine. defaultThreshold is the
// calibration fallback when too few identities are enrolled to measure an
// impostor distribution.
func NewEmbedded(defaultThreshold float64, log *slog.Logger) *Embedded {
	loadMatcherConfig.Do(func() {
		safisconfig.LoadDefaultConfig()
		safisconfig.Config.Workers = runtime.NumCPU()
	})
	l := sourceafis.NewTransparencyLogger(new(transparencyContents))
	return &Embedded{
		log:              log,
		defaultThreshold: defaultThreshold,
		creator:          sourceafis.NewTemplateCreator(l),
		cache:            make(map[string]*cachedTemplate),
	}
}

func (e *Embedded) Enroll(ctx context.Context, galleryDir, dbDir string, dpi int) (string, error) {
	entries, err := os.ReadDir(galleryDir)
	if err != nil {
		return "", fmt.Errorf("%w: gallery %s", ErrConfigMissing, galleryDir)
	}

	var report strings.Builder
	images, identities := 0, 0
	for _, entry := range entries {
		if !entry.IsDir() || !gallery.IsNumericID(entry.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		srcDir := filepath.Join(galleryDir, entry.Name())
		dstDir := filepath.Join(dbDir, entry.Name())
		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return "", fmt.Errorf("engine: create %s: %w", dstDir, err)
		}

		files, err := os.ReadDir(srcDir)
		if err != nil {
			return "", fmt.Errorf("engine: read %s: %w", srcDir, err)
		}
		wrote := 0
		for _, f := range files {
			if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), frame.Ext) {
				continue
			}
			src := filepath.Join(srcDir, f.Name())
			dst := filepath.Join(dstDir, strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))+TemplateExt)
			if err := writeTemplate(src, dst, dpi); err != nil {
				return "", err
			}
			wrote++
		}
		images += wrote
		identities++
		fmt.Fprintf(&report, "identity %s: %d template(s)\n", entry.Name(), wrote)
	}

	fmt.Fprintf(&report, "enrolled %d image(s) across %d identit(y/ies)\n", images, identities)
	return report.String(), nil
}

func (e *Embedded) Identify(ctx context.Context, probePath, dbDir string, threshold float64, dpi int) (*IdentifyResult, error) {
	if err := checkProbe(probePath); err != nil {
		return nil, err
	}
	if err := checkDB(dbDir); err != nil {
		return nil, err
	}

	probeImg, err := sourceafis.LoadImage(probePath)
	if err != nil {
		return nil, fmt.Errorf("%w: load probe: %v", ErrEngineUnavailable, err)
	}
	probe, err := e.creator.Template(probeImg)
	if err != nil {
		return nil, fmt.Errorf("%w: probe template: %v", ErrEngineUnavailable, err)
	}
	matcher, err := sourceafis.NewMatcher(sourceafis.NewTransparencyLogger(new(transparencyContents)), probe)
	if err != nil {
		return nil, fmt.Errorf("%w: matcher: %v", ErrEngineUnavailable, err)
	}

	// os.ReadDir returns entries sorted by name, which pins both
	// enumeration order and the tie-break: equal max scores keep the
	// lexicographically smallest identity.
	identities, err := os.ReadDir(dbDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDBMissing, dbDir)
	}

	best := 0.0
	var bestID string
	for _, id := range identities {
		if !id.IsDir() || !gallery.IsNumericID(id.Name()) {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dbDir, id.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), TemplateExt) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			path := filepath.Join(dbDir, id.Name(), f.Name())
			candidate, err := e.searchTemplate(path)
			if err != nil {
				if e.log != nil {
					e.log.Warn("skipping unreadable template", "path", path, "error", err)
				}
				continue
			}
			if score := matcher.Match(ctx, candidate); score > best {
				best = score
				bestID = id.Name()
			}
		}
	}

	res := &IdentifyResult{Score: best, Threshold: threshold}
	if bestID != "" && best >= threshold {
		res.MatchID = &bestID
	}
	return res, nil
}

func (e *Embedded) Calibrate(ctx context.Context, galleryDir, dbDir string, far float64, dpi int) (*CalibrateResult, error) {
	// Templates must exist and be fresh before the impostor sweep.
	if _, err := e.Enroll(ctx, galleryDir, dbDir, dpi); err != nil {
		return nil, err
	}

	byIdentity := treemap.NewWithStringComparator()
	identities, err := os.ReadDir(dbDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDBMissing, dbDir)
	}
	for _, id := range identities {
		if !id.IsDir() || !gallery.IsNumericID(id.Name()) {
			continue
		}
		tpls, err := e.identityTemplates(filepath.Join(dbDir, id.Name()))
		if err != nil {
			return nil, err
		}
		if len(tpls) > 0 {
			byIdentity.Put(id.Name(), tpls)
		}
	}

	// Every unordered pair of distinct identities contributes all of its
	// cross-template scores; same-identity pairs never do.
	var scores []float64
	keys := byIdentity.Keys()
	for i := 0; i < len(keys); i++ {
		left, _ := byIdentity.Get(keys[i])
		for _, probe := range left.([]*templates.SearchTemplate) {
			matcher, err := sourceafis.NewMatcher(sourceafis.NewTransparencyLogger(new(transparencyContents)), probe)
			if err != nil {
				return nil, fmt.Errorf("%w: matcher: %v", ErrEngineUnavailable, err)
			}
			for j := i + 1; j < len(keys); j++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				right, _ := byIdentity.Get(keys[j])
				for _, candidate := range right.([]*templates.SearchTemplate) {
					scores = append(scores, matcher.Match(ctx, candidate))
				}
			}
		}
	}

	suggested, ok := SuggestThreshold(scores, far)
	if !ok {
		suggested = e.defaultThreshold
	}
	return &CalibrateResult{
		SuggestedThreshold: suggested,
		TargetFAR:          far,
		ImpostorPairs:      len(scores),
	}, nil
}

// searchTemplate loads a persisted template blob and derives the in-memory
// search template, cached by path, mtime, and size.
func (e *Embedded) searchTemplate(path string) (*templates.SearchTemplate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if hit, ok := e.cache[path]; ok && hit.mod.Equal(info.ModTime()) && hit.size == info.Size() {
		e.mu.Unlock()
		return hit.tpl, nil
	}
	e.mu.Unlock()

	env, err := readTemplate(path)
	if err != nil {
		return nil, err
	}
	img := &frame.Image{Width: env.Width, Height: env.Height, Pixels: env.Pixels}
	src, err := sourceafis.NewFromGray(img.Gray())
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	tpl, err := e.creator.Template(src)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}

	e.mu.Lock()
	e.cache[path] = &cachedTemplate{mod: info.ModTime(), size: info.Size(), tpl: tpl}
	e.mu.Unlock()
	return tpl, nil
}

func (e *Embedded) identityTemplates(dir string) ([]*templates.SearchTemplate, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("engine: read %s: %w", dir, err)
	}
	var out []*templates.SearchTemplate
	for _, f := range files {
		if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), TemplateExt) {
			continue
		}
		tpl, err := e.searchTemplate(filepath.Join(dir, f.Name()))
		if err != nil {
			if e.log != nil {
				e.log.Warn("skipping unreadable template", "path", filepath.Join(dir, f.Name()), "error", err)
			}
			continue
		}
		out = append(out, tpl)
	}
	return out, nil
}

// writeTemplate derives a template blob from one canonical image,
// overwriting any previous blob of the same name.
func writeTemplate(imagePath, templatePath string, dpi int) error {
	raster, err := loadCanonical(imagePath)
	if err != nil {
		return err
	}
	data, err := cbor.Marshal(envelope{
		Version: 1,
		DPI:     dpi,
		Width:   raster.Width,
		Height:  raster.Height,
		Pixels:  raster.Pixels,
	})
	if err != nil {
		return fmt.Errorf("engine: encode template: %w", err)
	}
	if err := os.WriteFile(templatePath, data, 0o644); err != nil {
		return fmt.Errorf("engine: write %s: %w", templatePath, err)
	}
	return nil
}

func loadCanonical(path string) (*frame.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("engine: decode %s: %w", path, err)
	}
	return frame.FromImage(img), nil
}

func readTemplate(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	env := new(envelope)
	if err := cbor.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("engine: decode template %s: %w", path, err)
	}
	if env.Width <= 0 || env.Height <= 0 || len(env.Pixels) != env.Width*env.Height {
		return nil, fmt.Errorf("engine: template %s: inconsistent raster", path)
	}
	return env, nil
}
