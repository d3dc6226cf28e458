// Package synctex decodes SyncTeX synchronization data into a page-indexed
// set of source-tagged rectangles and resolves output points and source
// lines against it.
package synctex

import (
	"path"
	"sort"
	"strings"
)

// Kind identifies the SyncTeX record a block was built from.
type Kind uint8

const (
	KindVBox Kind = iota + 1
	KindHBox
	KindVoidVBox
	KindVoidHBox
	KindRule
	KindKern
	KindGlue
	KindMath
	KindCurrent
)

var kindNames = map[Kind]string{
	KindVBox:     "vbox",
	KindHBox:     "hbox",
	KindVoidVBox: "void_vbox",
	KindVoidHBox: "void_hbox",
	KindRule:     "rule",
	KindKern:     "kern",
	KindGlue:     "glue",
	KindMath:     "math",
	KindCurrent:  "current",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// SourceFile is an input file declared by an Input record. Blocks share
// the pointer of the file they came from.
type SourceFile struct {
	ID   int
	Path string
	Name string // base name of Path
}

// NewSourceFile returns the file declared as id with the given path.
func NewSourceFile(id int, p string) *SourceFile {
	name := p
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		name = p[i+1:]
	}
	return &SourceFile{ID: id, Path: p, Name: name}
}

// Matches reports whether the query names this file, either by its
// recorded path, its cleaned path, or its base name.
func (f *SourceFile) Matches(query string) bool {
	if f == nil || query == "" {
		return false
	}
	if query == f.Path || query == f.Name {
		return true
	}
	return cleanPath(query) == cleanPath(f.Path)
}

func cleanPath(p string) string {
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}

// Block is a source-tagged rectangle on an output page.
//
// Coordinates are big points in SyncTeX page space: x grows rightward from
// the left page edge and y grows downward from the top edge. Left and
// Bottom are the rectangle's smallest x and y, Width and Height are never
// negative. A zero Width marks a point anchor or a vertical rule.
type Block struct {
	Kind   Kind
	Level  int         // box nesting depth, 0 for records directly on the page
	File   *SourceFile // nil when the record named no declared input
	Line   int         // 1-based, 0 when unknown
	Left   float64
	Bottom float64
	Width  float64
	Height float64
}

// Contains reports whether (x, y) lies inside the block. All four edges
// are inclusive.
func (b *Block) Contains(x, y float64) bool {
	return x >= b.Left && x <= b.Left+b.Width &&
		y >= b.Bottom && y <= b.Bottom+b.Height
}

// Page holds the blocks of one output page in stream order.
type Page struct {
	Number int
	Blocks []Block
}

// Header carries the preamble and post scriptum settings of a SyncTeX file.
type Header struct {
	Version       int
	Output        string
	Magnification int
	Unit          int
	XOffset       int64
	YOffset       int64
}

// Index is the decoded form of one SyncTeX file. It is built once per
// compile and never mutated afterwards; any number of goroutines may query
// it concurrently.
type Index struct {
	Header Header
	Files  []*SourceFile // declaration order
	Pages  map[int]*Page
}

// Page returns the entry for page n (1-based).
func (ix *Index) Page(n int) (*Page, bool) {
	if ix == nil {
		return nil, false
	}
	p, ok := ix.Pages[n]
	return p, ok
}

// PageNumbers returns the indexed page numbers in ascending order.
func (ix *Index) PageNumbers() []int {
	if ix == nil {
		return nil
	}
	nums := make([]int, 0, len(ix.Pages))
	for n := range ix.Pages {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Summary describes an index for diagnostics.
type Summary struct {
	Version int      `json:"version"`
	Pages   int      `json:"pages"`
	Blocks  int      `json:"blocks"`
	Files   []string `json:"files"`
}

// Summary counts pages and blocks and lists the declared input paths.
func (ix *Index) Summary() Summary {
	if ix == nil {
		return Summary{Files: []string{}}
	}
	s := Summary{
		Version: ix.Header.Version,
		Pages:   len(ix.Pages),
		Files:   make([]string, 0, len(ix.Files)),
	}
	for _, p := range ix.Pages {
		s.Blocks += len(p.Blocks)
	}
	for _, f := range ix.Files {
		s.Files = append(s.Files, f.Path)
	}
	return s
}
