// Package indexcache stores decoded SyncTeX indices on disk, keyed by the
// SHA-256 of the compressed payload they were decoded from.
package indexcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dgallion1/texsync/internal/synctex"
)

// Bump when payload changes shape; older entries then read as misses.
const schemaVersion uint16 = 1

// Cache is safe for concurrent use. A nil *Cache is a valid, disabled cache.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// Open prepares a cache rooted at dir. An empty dir disables caching and
// returns a nil cache.
func Open(dir string) (*Cache, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Join(dir, "index"), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key returns the cache key for a compressed SyncTeX payload.
func Key(raw []byte) string {
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

type filePayload struct {
	ID   int
	Path string
}

type blockPayload struct {
	Kind   uint8
	Level  int
	File   int // index into payload.Files, -1 when unknown
	Line   int
	Left   float64
	Bottom float64
	Width  float64
	Height float64
}

type pagePayload struct {
	Number int
	Blocks []blockPayload
}

type payload struct {
	Schema   uint16
	Header   synctex.Header
	Files    []filePayload
	Declared int // leading entries of Files that come from Input records
	Pages    []pagePayload
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.dir, "index", key+".mp")
}

// Put writes ix under key, replacing any previous entry atomically.
func (c *Cache) Put(key string, ix *synctex.Index) error {
	if c == nil || ix == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(f.Name())

	if err := msgpack.NewEncoder(f).Encode(toPayload(ix)); err != nil {
		f.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get loads the index stored under key. A missing entry or one written by
// another schema version is a miss, not an error.
func (c *Cache) Get(key string) (*synctex.Index, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var pl payload
	if err := msgpack.NewDecoder(f).Decode(&pl); err != nil {
		return nil, false, fmt.Errorf("decode index %s: %w", key, err)
	}
	if pl.Schema != schemaVersion {
		return nil, false, nil
	}
	ix, err := fromPayload(&pl)
	if err != nil {
		return nil, false, fmt.Errorf("decode index %s: %w", key, err)
	}
	return ix, true, nil
}

func toPayload(ix *synctex.Index) *payload {
	pl := &payload{
		Schema:   schemaVersion,
		Header:   ix.Header,
		Files:    make([]filePayload, len(ix.Files)),
		Declared: len(ix.Files),
		Pages:    make([]pagePayload, 0, len(ix.Pages)),
	}
	fileIdx := make(map[*synctex.SourceFile]int, len(ix.Files))
	for i, f := range ix.Files {
		pl.Files[i] = filePayload{ID: f.ID, Path: f.Path}
		fileIdx[f] = i
	}
	for _, n := range ix.PageNumbers() {
		page := ix.Pages[n]
		pp := pagePayload{Number: n, Blocks: make([]blockPayload, len(page.Blocks))}
		for i, b := range page.Blocks {
			fi := -1
			if b.File != nil {
				idx, ok := fileIdx[b.File]
				if !ok {
					// A file pointer that is not in the table; keep it by value.
					idx = len(pl.Files)
					pl.Files = append(pl.Files, filePayload{ID: b.File.ID, Path: b.File.Path})
					fileIdx[b.File] = idx
				}
				fi = idx
			}
			pp.Blocks[i] = blockPayload{
				Kind:   uint8(b.Kind),
				Level:  b.Level,
				File:   fi,
				Line:   b.Line,
				Left:   b.Left,
				Bottom: b.Bottom,
				Width:  b.Width,
				Height: b.Height,
			}
		}
		pl.Pages = append(pl.Pages, pp)
	}
	return pl
}

func fromPayload(pl *payload) (*synctex.Index, error) {
	files := make([]*synctex.SourceFile, len(pl.Files))
	for i, f := range pl.Files {
		files[i] = synctex.NewSourceFile(f.ID, f.Path)
	}
	if pl.Declared < 0 || pl.Declared > len(files) {
		return nil, fmt.Errorf("declared file count %d out of range", pl.Declared)
	}
	ix := &synctex.Index{
		Header: pl.Header,
		Pages:  make(map[int]*synctex.Page, len(pl.Pages)),
	}
	if pl.Declared > 0 {
		ix.Files = files[:pl.Declared:pl.Declared]
	}
	for _, pp := range pl.Pages {
		page := &synctex.Page{Number: pp.Number, Blocks: make([]synctex.Block, len(pp.Blocks))}
		for i, b := range pp.Blocks {
			var file *synctex.SourceFile
			if b.File >= 0 {
				if b.File >= len(files) {
					return nil, fmt.Errorf("page %d block %d: file %d out of range", pp.Number, i, b.File)
				}
				file = files[b.File]
			}
			page.Blocks[i] = synctex.Block{
				Kind:   synctex.Kind(b.Kind),
				Level:  b.Level,
				File:   file,
				Line:   b.Line,
				Left:   b.Left,
				Bottom: b.Bottom,
				Width:  b.Width,
				Height: b.Height,
			}
		}
		ix.Pages[pp.Number] = page
	}
	return ix, nil
}
