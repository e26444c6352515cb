package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/harmonia/harmonia/internal/bus"
)

// wsUpgrader mirrors internal/viewer/routes/call.go's upgrader
// configuration: generous buffers for a low-frequency status push, origin
// checking left permissive since this admin surface is LAN-trusted
// (spec.md Non-goals: no peer authentication).
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 65536,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSnapshot is the payload pushed to each connection every coalescing
// tick. The HTML-fragment rendering spec.md §6 describes is the job of
// the external administration UI (out of scope here, see DESIGN.md); this
// surface pushes the same state as JSON so that collaborator can render
// it however it likes.
type wsSnapshot struct {
	PeerCount      int     `json:"peer_count"`
	IsPlaying      bool    `json:"is_playing"`
	BPM            float64 `json:"bpm"`
	Beat           float64 `json:"beat"`
	PlayingBlockID *string `json:"playing_block_id,omitempty"`
}

// handleLinkStatusWS upgrades to a WebSocket and forwards every coalesced
// bus.Event — at most one every 50ms (internal/bus's coalesceInterval) —
// as a JSON text frame, until the client disconnects.
//
// @Summary      Live link status
// @Description  WebSocket pushing peer count, tempo, beat, and playing block id at most every 50ms.
// @Tags         status
// @Router       /api/link-status-websocket [get]
func (s *Server) handleLinkStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("httpapi: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.bus.Subscribe()
	defer cancel()

	var playing *string
	for ev := range ch {
		snap := wsSnapshot{}
		switch e := ev.(type) {
		case bus.SnapshotEvent:
			snap.PeerCount = e.PeerCount
			snap.IsPlaying = e.IsPlaying
			snap.BPM = e.BPM
			snap.Beat = e.Beat
			snap.PlayingBlockID = playing
		case bus.PlayingStateChangedEvent:
			id := e.BlockID.String()
			if e.Playing {
				playing = &id
			} else {
				playing = nil
			}
			snap.PlayingBlockID = playing
		}

		data, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
