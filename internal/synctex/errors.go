package synctex

import (
	"errors"
	"fmt"
)

// ErrNotFound is the root of every "no source location" query outcome.
// It is a result variant, not a failure: callers check it with errors.Is
// and simply do nothing.
var ErrNotFound = errors.New("synctex: no source location")

var (
	// ErrPageNotFound means the queried page is not in the index.
	ErrPageNotFound = fmt.Errorf("%w: page not in index", ErrNotFound)
	// ErrNoBlock means the page exists but no block contains the point.
	ErrNoBlock = fmt.Errorf("%w: no block contains the point", ErrNotFound)
	// ErrIncompleteBlock means the winning block has no file or no line.
	ErrIncompleteBlock = fmt.Errorf("%w: matched block lacks file or line", ErrNotFound)
	// ErrNoSyncData means the current compile produced no usable sync data.
	ErrNoSyncData = fmt.Errorf("%w: no synctex data available", ErrNotFound)
)

// ParseError reports a record that violates the SyncTeX grammar.
type ParseError struct {
	Offset int // byte offset of the offending line
	Line   int // 1-based text line
	Page   int // page open at the time, 0 if none
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("synctex: line %d (offset %d, page %d): %s", e.Line, e.Offset, e.Page, e.Msg)
}
