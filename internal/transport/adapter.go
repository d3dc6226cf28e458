// Package transport turns compile results into published SyncTeX snapshots
// and answers sync queries against the latest one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dgallion1/texsync/internal/compiler"
	"github.com/dgallion1/texsync/internal/indexcache"
	"github.com/dgallion1/texsync/internal/pdfgeom"
	"github.com/dgallion1/texsync/internal/synctex"
)

// Recorder receives decode latencies.
type Recorder interface {
	Record(durationMs int64)
}

// Options configures an Adapter.
type Options struct {
	MaxSyncTeXBytes int64
	// RetainOnError keeps the previous snapshot when a new payload fails to
	// decode. When false a failed decode publishes an empty snapshot.
	RetainOnError bool
	Cache         *indexcache.Cache
	Stats         Recorder
}

// Snapshot is one published compile result. It is never modified after
// publication; a new compile replaces it wholesale.
//
// PDF-space queries need the page's box in Geometry. Without one (no PDF
// was uploaded, or the page has no MediaBox) coordinates pass through
// unchanged and are read as SyncTeX space, where y grows downward.
type Snapshot struct {
	CompileID   string
	Index       *synctex.Index // nil when the compile produced no usable sync data
	Geometry    pdfgeom.Geometry
	PublishedAt time.Time
}

// Outcome says what Apply did with a compile result.
type Outcome int

const (
	OutcomePublished Outcome = iota + 1
	OutcomeNoSync
	OutcomeRetained
	OutcomeCleared
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeNoSync:
		return "no_sync"
	case OutcomeRetained:
		return "retained"
	case OutcomeCleared:
		return "cleared"
	}
	return "unknown"
}

// Region is a block rectangle in PDF user space, lower-left origin.
type Region struct {
	Page   int     `json:"page" msgpack:"page"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Width  float64 `json:"width" msgpack:"width"`
	Height float64 `json:"height" msgpack:"height"`
}

// Adapter owns the current snapshot. Apply is the single writer; Locate
// and Forward may be called from any number of goroutines.
type Adapter struct {
	opts    Options
	log     *slog.Logger
	current atomic.Pointer[Snapshot]
	group   singleflight.Group
}

func New(opts Options, log *slog.Logger) *Adapter {
	if opts.MaxSyncTeXBytes <= 0 {
		opts.MaxSyncTeXBytes = DefaultMaxSyncTeXBytes
	}
	return &Adapter{opts: opts, log: log}
}

// Current returns the latest snapshot, or nil before the first Apply.
func (a *Adapter) Current() *Snapshot {
	return a.current.Load()
}

// Decode inflates and parses a compressed payload. Concurrent calls with
// identical bytes share one decode. A cancelled ctx returns early but does
// not stop a decode already running.
func (a *Adapter) Decode(ctx context.Context, raw []byte) (*synctex.Index, error) {
	if len(raw) == 0 {
		return nil, synctex.ErrNoSyncData
	}
	key := indexcache.Key(raw)
	ch := a.group.DoChan(key, func() (any, error) {
		return a.decode(key, raw)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*synctex.Index), nil
	}
}

func (a *Adapter) decode(key string, raw []byte) (*synctex.Index, error) {
	log := a.log.With("payload_key", key[:12])

	ix, ok, err := a.opts.Cache.Get(key)
	if err != nil {
		log.Warn("index cache read failed", "error", err)
	} else if ok {
		log.Debug("index cache hit")
		return ix, nil
	}

	start := time.Now()
	text, err := Decompress(raw, a.opts.MaxSyncTeXBytes)
	if err != nil {
		return nil, err
	}
	ix, err = synctex.ParseBytes(text)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	if a.opts.Stats != nil {
		a.opts.Stats.Record(elapsed.Milliseconds())
	}
	log.Info("decoded synctex",
		"compressed_bytes", len(raw),
		"bytes", len(text),
		"pages", len(ix.Pages),
		"duration_ms", elapsed.Milliseconds(),
	)

	if err := a.opts.Cache.Put(key, ix); err != nil {
		log.Warn("index cache write failed", "error", err)
	}
	return ix, nil
}

// Apply decodes a compile result and publishes it. The returned error is
// informational: whatever happens, the published state stays consistent
// and queries keep working.
func (a *Adapter) Apply(ctx context.Context, compileID string, res *compiler.Result) (Outcome, error) {
	log := a.log.With("compile_id", compileID)

	geom, err := pdfgeom.Read(res.PDF)
	if err != nil {
		log.Warn("unreadable pdf, using identity page geometry", "error", err)
		geom = nil
	}

	if len(res.SyncTeX) == 0 {
		a.publish(compileID, nil, geom)
		log.Warn("compile produced no synctex data, reverse sync unavailable")
		return OutcomeNoSync, nil
	}

	ix, err := a.Decode(ctx, res.SyncTeX)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return OutcomeRetained, err
		}
		if a.opts.RetainOnError {
			log.Warn("synctex decode failed, keeping previous index", "error", err)
			return OutcomeRetained, fmt.Errorf("decode synctex: %w", err)
		}
		a.publish(compileID, nil, geom)
		log.Warn("synctex decode failed, reverse sync unavailable", "error", err)
		return OutcomeCleared, fmt.Errorf("decode synctex: %w", err)
	}

	a.publish(compileID, ix, geom)
	return OutcomePublished, nil
}

func (a *Adapter) publish(compileID string, ix *synctex.Index, geom pdfgeom.Geometry) {
	a.current.Store(&Snapshot{
		CompileID:   compileID,
		Index:       ix,
		Geometry:    geom,
		PublishedAt: time.Now(),
	})
}

// index loads the latest snapshot once for a single query.
func (a *Adapter) index(op string, attrs ...any) (*Snapshot, bool) {
	s := a.current.Load()
	if s == nil || s.Index == nil {
		a.log.Warn(op+": no synctex index available", attrs...)
		return s, false
	}
	return s, true
}

// Locate resolves a point given in SyncTeX page space.
func (a *Adapter) Locate(page int, x, y float64) (synctex.Location, error) {
	s, ok := a.index("locate", "page", page)
	if !ok {
		return synctex.Location{}, synctex.ErrNoSyncData
	}
	return s.Index.Locate(page, x, y)
}

// LocatePDF resolves a point given in PDF user space on page.
func (a *Adapter) LocatePDF(page int, pdfX, pdfY float64) (synctex.Location, error) {
	s, ok := a.index("locate", "page", page)
	if !ok {
		return synctex.Location{}, synctex.ErrNoSyncData
	}
	a.checkGeometry(s, "locate", page)
	x, y := s.Geometry.ToSync(page, pdfX, pdfY)
	return s.Index.Locate(page, x, y)
}

// Forward returns the blocks for a source line in SyncTeX page space.
func (a *Adapter) Forward(file string, line int) ([]synctex.Placement, error) {
	s, ok := a.index("forward", "file", file, "line", line)
	if !ok {
		return nil, synctex.ErrNoSyncData
	}
	return s.Index.Forward(file, line), nil
}

// ForwardPDF returns the blocks for a source line as PDF user-space
// regions, suitable for highlighting.
func (a *Adapter) ForwardPDF(file string, line int) ([]Region, error) {
	s, ok := a.index("forward", "file", file, "line", line)
	if !ok {
		return nil, synctex.ErrNoSyncData
	}
	placements := s.Index.Forward(file, line)
	regions := make([]Region, 0, len(placements))
	for _, p := range placements {
		a.checkGeometry(s, "forward", p.Page)
		b := p.Block
		r := s.Geometry.ToPDF(p.Page, b.Left, b.Bottom, b.Width, b.Height)
		regions = append(regions, Region{
			Page:   p.Page,
			X:      r.X,
			Y:      r.Y,
			Width:  r.Width,
			Height: r.Height,
		})
	}
	return regions, nil
}

// checkGeometry logs when a PDF-space query on page falls back to
// unconverted coordinates.
func (a *Adapter) checkGeometry(s *Snapshot, op string, page int) {
	if !s.Geometry.Has(page) {
		a.log.Debug(op+": no page geometry, coordinates are not converted",
			"page", page, "compile_id", s.CompileID)
	}
}
