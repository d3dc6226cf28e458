package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"golang.org/x/net/websocket"

	"github.com/dgallion1/texsync/internal/bridge"
	"github.com/dgallion1/texsync/internal/pdfgeom"
	"github.com/dgallion1/texsync/internal/synctex"
	"github.com/dgallion1/texsync/internal/transport"
)

// handleReverse answers a reverseSyncTeXRequest posted as JSON. A point
// that maps to nothing is a 404, a compile without sync data a 409.
func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	var req bridge.ReverseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Page < 1 {
		jsonError(w, "page must be >= 1", http.StatusBadRequest)
		return
	}

	switch m := s.host.Handle(r.Context(), &req).(type) {
	case *bridge.ReverseResponse:
		m.Type = bridge.TypeReverseResponse
		switch {
		case m.Found:
			writeJSON(w, http.StatusOK, m)
		case m.Reason == bridge.ReasonNoSyncData:
			writeJSON(w, http.StatusConflict, m)
		default:
			writeJSON(w, http.StatusNotFound, m)
		}
	case *bridge.ErrorMessage:
		jsonError(w, m.Message+": "+m.Details, http.StatusInternalServerError)
	default:
		jsonError(w, "unexpected response", http.StatusInternalServerError)
	}
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	line, err := strconv.Atoi(r.URL.Query().Get("line"))
	if file == "" || err != nil || line < 1 {
		jsonError(w, "file and a positive line are required", http.StatusBadRequest)
		return
	}

	regions, err := s.adapter.ForwardPDF(file, line)
	if errors.Is(err, synctex.ErrNoSyncData) {
		jsonError(w, "no synctex data available", http.StatusConflict)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if regions == nil {
		regions = []transport.Region{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file":    file,
		"line":    line,
		"regions": regions,
	})
}

type indexResponse struct {
	Available   bool             `json:"available"`
	CompileID   string           `json:"compile_id,omitempty"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	Summary     *synctex.Summary `json:"summary,omitempty"`
	PDFPages    int              `json:"pdf_pages"`
	Pages       []pageInfo       `json:"pages,omitempty"`
}

// pageInfo is one PDF page's size in points.
type pageInfo struct {
	Page   int     `json:"page"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func pageInfos(g pdfgeom.Geometry) []pageInfo {
	if len(g) == 0 {
		return nil
	}
	out := make([]pageInfo, 0, len(g))
	for n, b := range g {
		out = append(out, pageInfo{Page: n, Width: b.Width(), Height: b.Height()})
	}
	slices.SortFunc(out, func(a, b pageInfo) int { return a.Page - b.Page })
	return out
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.adapter.Current()
	if snap == nil {
		writeJSON(w, http.StatusOK, indexResponse{})
		return
	}
	resp := indexResponse{
		Available:   snap.Index != nil,
		CompileID:   snap.CompileID,
		PublishedAt: &snap.PublishedAt,
		PDFPages:    len(snap.Geometry),
		Pages:       pageInfos(snap.Geometry),
	}
	if snap.Index != nil {
		sum := snap.Index.Summary()
		resp.Summary = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWebSocket runs the bridge over a websocket. The codec query
// parameter picks json (text frames) or msgpack (binary frames).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	codec, err := bridge.CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws := websocket.Server{
		Handshake: s.checkOrigin,
		Handler: func(conn *websocket.Conn) {
			// Clear deadlines the HTTP server set before the hijack.
			conn.SetDeadline(time.Time{})
			log := s.log.With("remote", r.RemoteAddr, "codec", codec.Name())
			log.Info("bridge connected")
			if err := s.host.Serve(r.Context(), bridge.NewWebSocketConn(conn, codec)); err != nil {
				log.Warn("bridge closed with error", "error", err)
				return
			}
			log.Info("bridge disconnected")
		},
	}
	ws.ServeHTTP(w, r)
}

// checkOrigin admits browsers whose Origin is allowlisted. Requests without
// an Origin header come from non-browser clients, which the API key already
// authenticates.
func (s *Server) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return nil
	}
	if !slices.Contains(s.cfg.AllowedOrigins, origin) {
		s.log.Warn("rejected websocket origin", "origin", origin)
		return errors.New("origin not allowed")
	}
	return nil
}
