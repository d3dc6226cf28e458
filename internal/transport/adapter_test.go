package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dgallion1/texsync/internal/compiler"
	"github.com/dgallion1/texsync/internal/indexcache"
	"github.com/dgallion1/texsync/internal/pdfgeom"
	"github.com/dgallion1/texsync/internal/synctex"
	"github.com/dgallion1/texsync/internal/synctex/synctextest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingRecorder struct{ n atomic.Int64 }

func (c *countingRecorder) Record(int64) { c.n.Add(1) }

var mainRect = synctextest.Rect{File: "main.tex", Line: 42, Left: 10, Bottom: 20, Width: 100, Height: 15}

func payload(rects ...synctextest.Rect) []byte {
	return synctextest.New().Page(1, rects...).Gzip()
}

func TestDecompress(t *testing.T) {
	text := synctextest.New().Page(1, mainRect).Bytes()
	gz := synctextest.Compress(text)

	out, err := Decompress(gz, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(text) {
		t.Error("expected inflated text to match input")
	}

	if _, err := Decompress(nil, 0); !errors.Is(err, synctex.ErrNoSyncData) {
		t.Errorf("expected ErrNoSyncData for empty payload, got %v", err)
	}

	bad := map[string][]byte{
		"not gzip":  []byte("SyncTeX Version:1\n"),
		"truncated": gz[:len(gz)/2],
	}
	for name, raw := range bad {
		var de *DecompressionError
		if _, err := Decompress(raw, 0); !errors.As(err, &de) {
			t.Errorf("%s: expected DecompressionError, got %v", name, err)
		}
	}

	var de *DecompressionError
	if _, err := Decompress(gz, 16); !errors.As(err, &de) {
		t.Errorf("expected DecompressionError past the limit, got %v", err)
	}
}

func TestApply_PublishesAndLocates(t *testing.T) {
	stats := &countingRecorder{}
	a := New(Options{RetainOnError: true, Stats: stats}, testLogger())
	if a.Current() != nil {
		t.Fatal("expected no snapshot before first apply")
	}

	out, err := a.Apply(context.Background(), "c1", &compiler.Result{SyncTeX: payload(mainRect)})
	if err != nil || out != OutcomePublished {
		t.Fatalf("expected published, got %v, %v", out, err)
	}
	if stats.n.Load() != 1 {
		t.Errorf("expected one recorded decode, got %d", stats.n.Load())
	}

	loc, err := a.Locate(1, 50, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.File != "main.tex" || loc.Line != 42 {
		t.Errorf("expected main.tex:42, got %s:%d", loc.File, loc.Line)
	}
	if s := a.Current(); s.CompileID != "c1" || s.Index == nil {
		t.Errorf("unexpected snapshot %+v", s)
	}
}

func TestApply_NoSyncTeX(t *testing.T) {
	a := New(Options{RetainOnError: true}, testLogger())
	a.Apply(context.Background(), "c1", &compiler.Result{SyncTeX: payload(mainRect)})

	out, err := a.Apply(context.Background(), "c2", &compiler.Result{})
	if err != nil || out != OutcomeNoSync {
		t.Fatalf("expected no_sync, got %v, %v", out, err)
	}
	if _, err := a.Locate(1, 50, 25); !errors.Is(err, synctex.ErrNoSyncData) {
		t.Errorf("expected ErrNoSyncData, got %v", err)
	}
	if _, err := a.ForwardPDF("main.tex", 42); !errors.Is(err, synctex.ErrNotFound) {
		t.Errorf("expected not-found from forward, got %v", err)
	}
}

func TestApply_DecodeFailureRetains(t *testing.T) {
	a := New(Options{RetainOnError: true}, testLogger())
	a.Apply(context.Background(), "c1", &compiler.Result{SyncTeX: payload(mainRect)})

	out, err := a.Apply(context.Background(), "c2", &compiler.Result{SyncTeX: []byte("garbage")})
	if out != OutcomeRetained {
		t.Errorf("expected retained, got %v", out)
	}
	var de *DecompressionError
	if !errors.As(err, &de) {
		t.Errorf("expected DecompressionError, got %v", err)
	}
	if a.Current().CompileID != "c1" {
		t.Errorf("expected c1 to stay published, got %s", a.Current().CompileID)
	}
	if _, err := a.Locate(1, 50, 25); err != nil {
		t.Errorf("expected previous index to keep answering, got %v", err)
	}
}

func TestApply_DecodeFailureClears(t *testing.T) {
	a := New(Options{}, testLogger())
	a.Apply(context.Background(), "c1", &compiler.Result{SyncTeX: payload(mainRect)})

	broken := synctextest.Compress([]byte("SyncTeX Version:1\nContent:\n{1\n"))
	out, err := a.Apply(context.Background(), "c2", &compiler.Result{SyncTeX: broken})
	if out != OutcomeCleared {
		t.Errorf("expected cleared, got %v", out)
	}
	var pe *synctex.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("expected ParseError, got %v", err)
	}
	if _, err := a.Locate(1, 50, 25); !errors.Is(err, synctex.ErrNoSyncData) {
		t.Errorf("expected ErrNoSyncData, got %v", err)
	}
}

func TestApply_LastWriterWins(t *testing.T) {
	a := New(Options{}, testLogger())
	other := mainRect
	other.Line = 7

	a.Apply(context.Background(), "c1", &compiler.Result{SyncTeX: payload(mainRect)})
	a.Apply(context.Background(), "c2", &compiler.Result{SyncTeX: payload(other)})

	loc, err := a.Locate(1, 50, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.Line != 7 {
		t.Errorf("expected line from the latest compile, got %d", loc.Line)
	}
}

func TestLocatePDF_ConvertsThroughGeometry(t *testing.T) {
	a := New(Options{}, testLogger())
	ix, err := synctex.ParseBytes(synctextest.New().Page(1, mainRect).Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a.publish("c1", ix, pdfgeom.Geometry{1: {LLX: 0, LLY: 0, URX: 612, URY: 792}})

	// SyncTeX (50, 25) sits at PDF y = 792 - 25.
	loc, err := a.LocatePDF(1, 50, 767)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.Line != 42 {
		t.Errorf("expected line 42, got %d", loc.Line)
	}
	if _, err := a.LocatePDF(1, 50, 25); !errors.Is(err, synctex.ErrNoBlock) {
		t.Errorf("expected unconverted point to miss, got %v", err)
	}

	regions, err := a.ForwardPDF("main.tex", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(regions))
	}
	r := regions[0]
	if r.Page != 1 || !near(r.X, 10) || !near(r.Y, 757) || !near(r.Width, 100) || !near(r.Height, 15) {
		t.Errorf("unexpected region %+v", r)
	}

	placements, err := a.Forward("main.tex", 42)
	if err != nil || len(placements) != 1 {
		t.Errorf("expected 1 placement, got %d, %v", len(placements), err)
	}
}

func TestLocatePDF_WithoutGeometryPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	a := New(Options{}, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	ix, err := synctex.ParseBytes(synctextest.New().Page(1, mainRect).Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	a.publish("c1", ix, nil)
	loc, err := a.LocatePDF(1, 50, 25)
	if err != nil || loc.Line != 42 {
		t.Fatalf("expected identity lookup to hit line 42, got %+v, %v", loc, err)
	}
	if !strings.Contains(buf.String(), "no page geometry") {
		t.Errorf("expected missing geometry to be logged, got %q", buf.String())
	}

	buf.Reset()
	a.publish("c2", ix, pdfgeom.Geometry{1: {URX: 612, URY: 792}})
	if _, err := a.LocatePDF(1, 50, 767); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.ForwardPDF("main.tex", 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "no page geometry") {
		t.Errorf("expected no fallback log with geometry, got %q", buf.String())
	}
}

func TestDecode_UsesCache(t *testing.T) {
	cache, err := indexcache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	raw := payload(mainRect)

	stats := &countingRecorder{}
	first := New(Options{Cache: cache, Stats: stats}, testLogger())
	if _, err := first.Decode(context.Background(), raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := New(Options{Cache: cache, Stats: stats}, testLogger())
	ix, err := second.Decode(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.n.Load() != 1 {
		t.Errorf("expected cached decode to skip parsing, got %d decodes", stats.n.Load())
	}
	if _, err := ix.Locate(1, 50, 25); err != nil {
		t.Errorf("expected cached index to resolve, got %v", err)
	}
}

func TestDecode_CancelledContext(t *testing.T) {
	a := New(Options{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Either the decode wins the race or the cancellation does; both are
	// acceptable, but a cancellation must surface as ctx.Err().
	_, err := a.Decode(ctx, payload(mainRect))
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("expected nil or context.Canceled, got %v", err)
	}
}

func TestConcurrentReadersDuringApply(t *testing.T) {
	a := New(Options{RetainOnError: true}, testLogger())
	payloads := [][]byte{payload(mainRect), payload(), nil}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				loc, err := a.Locate(1, 50, 25)
				if err != nil && !errors.Is(err, synctex.ErrNotFound) {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if err == nil && (loc.File != "main.tex" || loc.Line != 42) {
					t.Errorf("torn result %+v", loc)
					return
				}
			}
		}()
	}
	for i := range 30 {
		a.Apply(context.Background(), "c", &compiler.Result{SyncTeX: payloads[i%len(payloads)]})
	}
	close(stop)
	wg.Wait()
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{
		OutcomePublished: "published",
		OutcomeNoSync:    "no_sync",
		OutcomeRetained:  "retained",
		OutcomeCleared:   "cleared",
		Outcome(0):       "unknown",
	} {
		if o.String() != want {
			t.Errorf("expected %q, got %q", want, o.String())
		}
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-3 }
