// Package bridge carries sync requests between the PDF viewer and the
// editor host over a message channel.
package bridge

import "github.com/dgallion1/texsync/internal/transport"

// Message type tags as they appear on the wire.
const (
	TypeReverseRequest  = "reverseSyncTeXRequest"
	TypeReverseResponse = "reverseSyncTeXResponse"
	TypeForwardRequest  = "forwardSyncTeXRequest"
	TypeForwardResponse = "forwardSyncTeXResponse"
	TypeError           = "error"
)

// Reasons given in a ReverseResponse that found nothing.
const (
	ReasonPageNotFound    = "page_not_found"
	ReasonNoBlock         = "no_block"
	ReasonIncompleteBlock = "incomplete_block"
	ReasonNoSyncData      = "no_sync_data"
)

// Message is any value the bridge can carry. Implementations are the
// pointer types declared in this file.
type Message interface {
	MessageType() string
	stamp()
}

// ReverseRequest asks for the source location under a point of the PDF,
// in PDF user space on a 1-based page.
type ReverseRequest struct {
	Type string  `json:"type" msgpack:"type"`
	Page int     `json:"page" msgpack:"page"`
	PDFX float64 `json:"pdfX" msgpack:"pdfX"`
	PDFY float64 `json:"pdfY" msgpack:"pdfY"`
}

type ReverseResponse struct {
	Type           string `json:"type" msgpack:"type"`
	Found          bool   `json:"found" msgpack:"found"`
	SourceFilePath string `json:"sourceFilePath,omitempty" msgpack:"sourceFilePath,omitempty"`
	LineNumber     int    `json:"lineNumber,omitempty" msgpack:"lineNumber,omitempty"`
	Reason         string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// ForwardRequest asks where a source line was typeset.
type ForwardRequest struct {
	Type string `json:"type" msgpack:"type"`
	File string `json:"file" msgpack:"file"`
	Line int    `json:"line" msgpack:"line"`
}

type ForwardResponse struct {
	Type    string             `json:"type" msgpack:"type"`
	Regions []transport.Region `json:"regions" msgpack:"regions"`
}

// ErrorMessage reports a message the receiver could not handle.
type ErrorMessage struct {
	Type    string `json:"type" msgpack:"type"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

func (*ReverseRequest) MessageType() string  { return TypeReverseRequest }
func (*ReverseResponse) MessageType() string { return TypeReverseResponse }
func (*ForwardRequest) MessageType() string  { return TypeForwardRequest }
func (*ForwardResponse) MessageType() string { return TypeForwardResponse }
func (*ErrorMessage) MessageType() string    { return TypeError }

func (m *ReverseRequest) stamp()  { m.Type = TypeReverseRequest }
func (m *ReverseResponse) stamp() { m.Type = TypeReverseResponse }
func (m *ForwardRequest) stamp()  { m.Type = TypeForwardRequest }
func (m *ForwardResponse) stamp() { m.Type = TypeForwardResponse }
func (m *ErrorMessage) stamp()    { m.Type = TypeError }

var registry = map[string]func() Message{
	TypeReverseRequest:  func() Message { return &ReverseRequest{} },
	TypeReverseResponse: func() Message { return &ReverseResponse{} },
	TypeForwardRequest:  func() Message { return &ForwardRequest{} },
	TypeForwardResponse: func() Message { return &ForwardResponse{} },
	TypeError:           func() Message { return &ErrorMessage{} },
}
