package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgallion1/texsync/internal/synctex"
	"github.com/dgallion1/texsync/internal/synctex/synctextest"
)

func writeSample(t *testing.T, gz bool) string {
	t.Helper()
	b := synctextest.New().Page(1, synctextest.Rect{
		File: "main.tex", Line: 42, Left: 10, Bottom: 20, Width: 100, Height: 15,
	})
	data, name := b.Bytes(), "doc.synctex"
	if gz {
		data, name = b.Gzip(), "doc.synctex.gz"
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func run(args ...string) error {
	rootCmd.SetArgs(append([]string{"--color", "off"}, args...))
	return rootCmd.Execute()
}

func TestLoadIndex_PlainAndGzip(t *testing.T) {
	for _, gz := range []bool{false, true} {
		ix, err := loadIndex(rootCmd, writeSample(t, gz))
		if err != nil {
			t.Fatalf("gz=%v: unexpected error: %v", gz, err)
		}
		if ix.Summary().Blocks != 1 {
			t.Errorf("gz=%v: expected 1 block, got %d", gz, ix.Summary().Blocks)
		}
	}
}

func TestLoadIndex_Missing(t *testing.T) {
	if _, err := loadIndex(rootCmd, filepath.Join(t.TempDir(), "nope.synctex")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCommands(t *testing.T) {
	path := writeSample(t, true)

	if err := run("inspect", path); err != nil {
		t.Errorf("inspect: %v", err)
	}
	if err := run("locate", path, "1", "50", "25"); err != nil {
		t.Errorf("locate: %v", err)
	}
	if err := run("locate", path, "1", "500", "500"); !errors.Is(err, synctex.ErrNoBlock) {
		t.Errorf("expected ErrNoBlock, got %v", err)
	}
	if err := run("forward", path, "main.tex", "42"); err != nil {
		t.Errorf("forward: %v", err)
	}
	if err := run("forward", path, "main.tex", "7"); err == nil {
		t.Error("expected error for an untypeset line")
	}
	if err := run("locate", path, "one", "0", "0"); err == nil {
		t.Error("expected error for a bad page")
	}
}
