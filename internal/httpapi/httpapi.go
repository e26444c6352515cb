// Package httpapi is the administrative HTTP surface that drives block
// upload, playback, and registry edits (spec.md §6). Handler wiring is
// grounded on internal/viewer/routes/*.go's generic handlePostAction/handleGet
// helpers and isLocalRequest loopback check; the WebSocket push uses the
// same gorilla/websocket upgrader shape as internal/viewer/routes/call.go.
// Each handler is a named Server method registered against the mux, with
// its doc-only swag annotation comments directly above it; there are no
// separate stub functions.
package httpapi

import (
	"net/http"

	"github.com/harmonia/harmonia/internal/bus"
	"github.com/harmonia/harmonia/internal/logging"
	"github.com/harmonia/harmonia/internal/midi"
	"github.com/harmonia/harmonia/internal/registry"
	"github.com/harmonia/harmonia/internal/storage"
)

var log = logging.Named("httpapi")

// Server wires the registry, content cache, and command/event bus into one
// http.Handler. Tempo/group state reaches connected clients only through
// bus.SnapshotEvent, published by internal/app's wiring loop — this
// package never reads the tempo session directly. One Server serves the
// whole admin surface.
type Server struct {
	reg   *registry.Registry
	cache *storage.Cache
	bus   *bus.Bus
}

func New(reg *registry.Registry, cache *storage.Cache, b *bus.Bus) *Server {
	return &Server{reg: reg, cache: cache, bus: b}
}

// Handler builds the routed mux, using Go's 1.22+ ServeMux pattern syntax
// (method + {wildcard}) directly rather than hand-rolled prefix trimming.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	handlePostAction(mux, "POST /blocks", s.handleUpload)
	handleGet(mux, "GET /blocks/{id}/source", s.handleBlockSource)
	handlePostAction(mux, "POST /blocks/play/{id}", s.handlePlay)
	handlePostAction(mux, "POST /interrupt", s.handleInterrupt)
	handlePostAction(mux, "POST /blocks/{id}", s.handleUpdateBlock)
	handleDelete(mux, "DELETE /blocks/{id}", s.handleDeleteBlock)
	handleGet(mux, "GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/link-status-websocket", s.handleLinkStatusWS)

	return mux
}

// handleHealth answers the literal keepalive body the admin UI polls for.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Hi"))
}

// parsedToBlock converts a parsed SMF file plus its cache digest into a
// registry.Block ready for Insert.
func parsedToBlock(p midi.Parsed, fileName, digest string) registry.Block {
	return registry.Block{
		Kind:            registry.KindMidi,
		FileName:        fileName,
		SHA1:            digest,
		Format:          p.Format,
		TicksPerQuarter: p.TicksPerQuarter,
		TracksCount:     p.TracksCount,
		Events:          p.Events,
	}
}
