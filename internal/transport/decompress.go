package transport

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/dgallion1/texsync/internal/synctex"
)

// DefaultMaxSyncTeXBytes bounds decompressed SyncTeX text when no limit is
// configured.
const DefaultMaxSyncTeXBytes = 256 << 20

// DecompressionError reports a payload that is not a complete gzip stream
// or that inflates past the configured limit.
type DecompressionError struct {
	Err error
}

func (e *DecompressionError) Error() string {
	return "synctex payload: " + e.Err.Error()
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// Decompress inflates a gzip-compressed SyncTeX payload. An empty payload
// means the compile produced no sync data and yields synctex.ErrNoSyncData.
func Decompress(raw []byte, limit int64) ([]byte, error) {
	if len(raw) == 0 {
		return nil, synctex.ErrNoSyncData
	}
	if limit <= 0 {
		limit = DefaultMaxSyncTeXBytes
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecompressionError{Err: err}
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, &DecompressionError{Err: err}
	}
	if int64(len(out)) > limit {
		return nil, &DecompressionError{Err: fmt.Errorf("inflated size exceeds %d bytes", limit)}
	}
	return out, nil
}
