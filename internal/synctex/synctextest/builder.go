// Package synctextest writes synthetic SyncTeX files for tests.
package synctextest

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"math"
	"sort"
)

// SpPerBP matches the scale the decoder uses.
const SpPerBP = 65781.76

// Rect is a source-tagged rectangle in big points, SyncTeX page space.
// An empty File writes a record without a file,line tag.
type Rect struct {
	File   string
	Line   int
	Left   float64
	Bottom float64
	Width  float64
	Height float64
}

// Center returns the rectangle's centroid.
func (r Rect) Center() (float64, float64) {
	return r.Left + r.Width/2, r.Bottom + r.Height/2
}

// Builder accumulates pages of void hbox records.
type Builder struct {
	files []string
	ids   map[string]int
	pages map[int][]Rect
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{ids: make(map[string]int), pages: make(map[int][]Rect)}
}

// Page appends rects to page n, declaring their files on first use. A page
// added with no rects is written as an empty page.
func (b *Builder) Page(n int, rects ...Rect) *Builder {
	if _, ok := b.pages[n]; !ok {
		b.pages[n] = []Rect{}
	}
	for _, r := range rects {
		if r.File != "" {
			if _, ok := b.ids[r.File]; !ok {
				b.files = append(b.files, r.File)
				b.ids[r.File] = len(b.files)
			}
		}
		b.pages[n] = append(b.pages[n], r)
	}
	return b
}

// Bytes renders the SyncTeX text.
func (b *Builder) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString("SyncTeX Version:1\n")
	for i, f := range b.files {
		fmt.Fprintf(&buf, "Input:%d:%s\n", i+1, f)
	}
	buf.WriteString("Output:pdf\nMagnification:1000\nUnit:1\nX Offset:0\nY Offset:0\nContent:\n")

	nums := make([]int, 0, len(b.pages))
	for n := range b.pages {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		fmt.Fprintf(&buf, "{%d\n", n)
		for _, r := range b.pages[n] {
			// The decoder places the box top at v-H, so the baseline sits
			// at the rectangle's larger y edge with zero depth.
			h, v := Sp(r.Left), Sp(r.Bottom+r.Height)
			w, ht := Sp(r.Width), Sp(r.Height)
			if r.File == "" {
				fmt.Fprintf(&buf, "h%d,%d:%d,%d,0\n", h, v, w, ht)
				continue
			}
			fmt.Fprintf(&buf, "h%d,%d:%d,%d:%d,%d,0\n", b.ids[r.File], r.Line, h, v, w, ht)
		}
		fmt.Fprintf(&buf, "}%d\n", n)
	}
	buf.WriteString("Postamble:\nCount:0\nPost scriptum:\n")
	return buf.Bytes()
}

// Gzip renders the SyncTeX text gzip-compressed, as a compiler emits it.
func (b *Builder) Gzip() []byte {
	return Compress(b.Bytes())
}

// Compress gzips arbitrary bytes.
func Compress(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	return buf.Bytes()
}

// Sp converts big points to scaled points.
func Sp(bp float64) int64 {
	return int64(math.Round(bp * SpPerBP))
}
