package synctex

// Location is a resolved source position.
type Location struct {
	File string `json:"sourceFilePath"`
	Line int    `json:"lineNumber"`
	Page int    `json:"page"`
}

// Placement is a block found by a forward query, with the page it is on.
type Placement struct {
	Page  int
	Block Block
}

// Locate resolves a point on an output page to the source location of the
// first block, in stored order, whose rectangle contains it. Stored order
// puts enclosing boxes before the boxes nested in them, so overlapping
// matches always resolve to the outermost one that was recorded first.
//
// Every miss wraps ErrNotFound: ErrPageNotFound when the page is not
// indexed, ErrNoBlock when nothing contains the point, and
// ErrIncompleteBlock when the winning block lacks a file or a line.
func (ix *Index) Locate(page int, x, y float64) (Location, error) {
	if ix == nil {
		return Location{}, ErrNoSyncData
	}
	p, ok := ix.Pages[page]
	if !ok {
		return Location{}, ErrPageNotFound
	}
	for i := range p.Blocks {
		b := &p.Blocks[i]
		if !b.Contains(x, y) {
			continue
		}
		if b.File == nil || b.Line <= 0 {
			return Location{}, ErrIncompleteBlock
		}
		return Location{File: b.File.Path, Line: b.Line, Page: page}, nil
	}
	return Location{}, ErrNoBlock
}

// Forward returns every block tagged with the given source line, across all
// pages, ordered by page number and then stored order. file matches a
// block's input by path, cleaned path, or base name.
func (ix *Index) Forward(file string, line int) []Placement {
	if ix == nil || file == "" || line <= 0 {
		return nil
	}
	var out []Placement
	for _, n := range ix.PageNumbers() {
		for _, b := range ix.Pages[n].Blocks {
			if b.Line == line && b.File.Matches(file) {
				out = append(out, Placement{Page: n, Block: b})
			}
		}
	}
	return out
}
