package bridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dgallion1/texsync/internal/synctex"
	"github.com/dgallion1/texsync/internal/transport"
)

// Locator answers sync queries in PDF user space. *transport.Adapter
// implements it.
type Locator interface {
	LocatePDF(page int, pdfX, pdfY float64) (synctex.Location, error)
	ForwardPDF(file string, line int) ([]transport.Region, error)
}

// Editor moves the source view to a resolved location.
type Editor interface {
	RevealLine(ctx context.Context, path string, line int) error
}

// Host answers sync requests arriving on a Conn.
type Host struct {
	loc    Locator
	editor Editor
	reply  bool
	log    *slog.Logger
}

// NewHost builds a dispatcher. editor may be nil. When reply is false the
// host acts on requests without answering them, as a one-way viewer
// channel expects.
func NewHost(loc Locator, editor Editor, reply bool, log *slog.Logger) *Host {
	return &Host{loc: loc, editor: editor, reply: reply, log: log}
}

// Serve handles messages until the channel closes or ctx is done. A closed
// channel ends Serve without error.
func (h *Host) Serve(ctx context.Context, conn Conn) error {
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				h.log.Warn("malformed bridge message", "error", err)
				if sendErr := conn.Send(ctx, &ErrorMessage{Message: "malformed message", Details: de.Err.Error()}); sendErr != nil {
					return sendErr
				}
				continue
			}
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}

		resp := h.Handle(ctx, msg)
		if resp == nil {
			continue
		}
		if _, isErr := resp.(*ErrorMessage); !h.reply && !isErr {
			continue
		}
		if err := conn.Send(ctx, resp); err != nil {
			return err
		}
	}
}

// Handle processes one message and returns the response to send, or nil.
// A request that resolves to nothing is answered normally; it is never an
// error.
func (h *Host) Handle(ctx context.Context, msg Message) Message {
	switch m := msg.(type) {
	case *ReverseRequest:
		return h.reverse(ctx, m)
	case *ForwardRequest:
		regions, err := h.loc.ForwardPDF(m.File, m.Line)
		if err != nil && !errors.Is(err, synctex.ErrNotFound) {
			return &ErrorMessage{Message: "forward sync failed", Details: err.Error()}
		}
		if regions == nil {
			regions = []transport.Region{}
		}
		return &ForwardResponse{Regions: regions}
	case *ErrorMessage:
		h.log.Warn("peer reported error", "message", m.Message, "details", m.Details)
		return nil
	}
	return &ErrorMessage{Message: "unexpected message type", Details: msg.MessageType()}
}

func (h *Host) reverse(ctx context.Context, m *ReverseRequest) Message {
	loc, err := h.loc.LocatePDF(m.Page, m.PDFX, m.PDFY)
	if err != nil {
		if !errors.Is(err, synctex.ErrNotFound) {
			return &ErrorMessage{Message: "reverse sync failed", Details: err.Error()}
		}
		h.log.Debug("reverse sync found nothing", "page", m.Page, "x", m.PDFX, "y", m.PDFY, "reason", err)
		return &ReverseResponse{Found: false, Reason: reason(err)}
	}

	if h.editor != nil {
		if err := h.editor.RevealLine(ctx, loc.File, loc.Line); err != nil {
			h.log.Warn("editor reveal failed", "file", loc.File, "line", loc.Line, "error", err)
		}
	}
	return &ReverseResponse{Found: true, SourceFilePath: loc.File, LineNumber: loc.Line}
}

func reason(err error) string {
	switch {
	case errors.Is(err, synctex.ErrNoSyncData):
		return ReasonNoSyncData
	case errors.Is(err, synctex.ErrPageNotFound):
		return ReasonPageNotFound
	case errors.Is(err, synctex.ErrIncompleteBlock):
		return ReasonIncompleteBlock
	}
	return ReasonNoBlock
}
