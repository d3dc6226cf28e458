// Package pdfgeom reads page boxes from a compiled PDF and converts between
// PDF user space (origin bottom-left, y up) and SyncTeX page space (origin
// top-left, y down).
package pdfgeom

import (
	"bytes"
	"fmt"

	pdflib "github.com/ledongthuc/pdf"
)

// Box is a page MediaBox in PDF user space.
type Box struct {
	LLX float64 `json:"llx"`
	LLY float64 `json:"lly"`
	URX float64 `json:"urx"`
	URY float64 `json:"ury"`
}

func (b Box) Width() float64  { return b.URX - b.LLX }
func (b Box) Height() float64 { return b.URY - b.LLY }

// Rect is an axis-aligned rectangle in PDF user space; X and Y name its
// lower-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Geometry maps 1-based page numbers to their MediaBox. A nil Geometry is
// valid and converts coordinates unchanged.
type Geometry map[int]Box

// maxInherit bounds the Parent chain walked when looking for an inherited
// MediaBox.
const maxInherit = 32

// Read extracts every page's MediaBox. Empty input yields nil geometry.
func Read(data []byte) (g Geometry, err error) {
	if len(data) == 0 {
		return nil, nil
	}
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	g = make(Geometry)
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		if box, ok := mediaBox(page.V); ok {
			g[i] = box
		}
	}
	return g, nil
}

func mediaBox(v pdflib.Value) (Box, bool) {
	for depth := 0; depth < maxInherit && v.Kind() == pdflib.Dict; depth++ {
		mb := v.Key("MediaBox")
		if mb.Kind() == pdflib.Array && mb.Len() == 4 {
			x0, y0 := mb.Index(0).Float64(), mb.Index(1).Float64()
			x1, y1 := mb.Index(2).Float64(), mb.Index(3).Float64()
			return Box{
				LLX: min(x0, x1),
				LLY: min(y0, y1),
				URX: max(x0, x1),
				URY: max(y0, y1),
			}, true
		}
		v = v.Key("Parent")
	}
	return Box{}, false
}

// Has reports whether page has a known box.
func (g Geometry) Has(page int) bool {
	_, ok := g[page]
	return ok
}

// ToSync converts a PDF user-space point on page to SyncTeX page space.
// Pages without a known box are returned unchanged.
func (g Geometry) ToSync(page int, x, y float64) (float64, float64) {
	b, ok := g[page]
	if !ok {
		return x, y
	}
	return x - b.LLX, b.URY - y
}

// ToPDF converts a SyncTeX-space rectangle (left, top edge, width, height
// with y growing downward) on page to PDF user space.
func (g Geometry) ToPDF(page int, left, top, width, height float64) Rect {
	b, ok := g[page]
	if !ok {
		return Rect{X: left, Y: top, Width: width, Height: height}
	}
	return Rect{
		X:      left + b.LLX,
		Y:      b.URY - (top + height),
		Width:  width,
		Height: height,
	}
}
