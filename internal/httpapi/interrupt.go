package httpapi

import (
	"net/http"

	"github.com/harmonia/harmonia/internal/bus"
)

// handleInterrupt queues an Interrupt command, but only for callers on the
// loopback interface — a panic-stop button meant for the local operator,
// not the LAN (spec.md §6 "accepted only from loopback origin"). Grounded
// on internal/viewer/routes/helpers.go's isLocalRequest.
//
// @Summary      Stop whatever is playing
// @Description  Loopback-only. Immediately cleans up any in-flight notes.
// @Tags         transport
// @Success      202 {string} string "accepted"
// @Failure      403 {string} string "loopback only"
// @Router       /interrupt [post]
func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if !isLocalRequest(r) {
		http.Error(w, "interrupt is loopback-only", http.StatusForbidden)
		return
	}
	if !s.bus.Send(bus.InterruptCommand{}) {
		http.Error(w, "command queue full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
