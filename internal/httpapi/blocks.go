package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/harmonia/harmonia/internal/bus"
	"github.com/harmonia/harmonia/internal/registry"
)

func parseBlockID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

// handleBlockSource streams the raw MIDI bytes for a block back out of the
// content cache, with an ETag of the content SHA-1 (spec.md §6).
//
// @Summary      Fetch a block's raw MIDI bytes
// @Tags         blocks
// @Produce      application/octet-stream
// @Param        id path string true "block id"
// @Success      200 {file} byte
// @Failure      404 {string} string "unknown block"
// @Router       /blocks/{id}/source [get]
func (s *Server) handleBlockSource(w http.ResponseWriter, r *http.Request) {
	id, err := parseBlockID(r)
	if err != nil {
		http.Error(w, "invalid block id", http.StatusBadRequest)
		return
	}
	block, err := s.reg.Get(id)
	if err != nil {
		writeUnknownBlock(w, err)
		return
	}
	data, err := s.cache.Get(block.SHA1)
	if err != nil {
		http.Error(w, "source payload missing from cache", http.StatusInternalServerError)
		return
	}
	w.Header().Set("ETag", `"`+block.SHA1+`"`)
	w.Header().Set("Content-Type", "audio/midi")
	w.Write(data)
}

// handlePlay queues a direct (non-group-quantized) Play command for a
// block (spec.md §6 "POST /blocks/play/{id}").
//
// @Summary      Play a block
// @Tags         blocks
// @Param        id path string true "block id"
// @Success      202 {string} string "accepted"
// @Failure      404 {string} string "unknown block"
// @Router       /blocks/play/{id} [post]
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	id, err := parseBlockID(r)
	if err != nil {
		http.Error(w, "invalid block id", http.StatusBadRequest)
		return
	}
	if _, err := s.reg.Get(id); err != nil {
		writeUnknownBlock(w, err)
		return
	}
	if !s.bus.Send(bus.PlayCommand{BlockID: id}) {
		http.Error(w, "command queue full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleUpdateBlock applies a partial update to a block's group, keybind,
// and/or MIDI output port (spec.md §6 "POST /blocks/{id} (form body)").
//
// @Summary      Update a block's group/keybind/midi_port
// @Tags         blocks
// @Accept       x-www-form-urlencoded
// @Param        id path string true "block id"
// @Success      200 {object} registry.Block
// @Failure      404 {string} string "unknown block"
// @Router       /blocks/{id} [post]
func (s *Server) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	id, err := parseBlockID(r)
	if err != nil {
		http.Error(w, "invalid block id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var delta registry.Delta
	if v, ok := formValue(r, "group"); ok {
		delta.Group = &v
	}
	if v, ok := formValue(r, "keybind"); ok && v != "" {
		runes := []rune(v)
		delta.Keybind = &runes[0]
	}
	if v, ok := formValue(r, "midi_port"); ok && v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			http.Error(w, "midi_port must be a uint16", http.StatusBadRequest)
			return
		}
		p := uint16(port)
		delta.MidiPort = &p
	}

	block, err := s.reg.Update(id, delta)
	if err != nil {
		writeUnknownBlock(w, err)
		return
	}
	writeJSON(w, block)
}

func formValue(r *http.Request, key string) (string, bool) {
	vals, ok := r.PostForm[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// handleDeleteBlock removes a block from the registry permanently. The
// cached MIDI payload is left in place — it may still be shared by another
// block's identical content.
//
// @Summary      Delete a block
// @Tags         blocks
// @Param        id path string true "block id"
// @Success      204
// @Failure      404 {string} string "unknown block"
// @Router       /blocks/{id} [delete]
func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	id, err := parseBlockID(r)
	if err != nil {
		http.Error(w, "invalid block id", http.StatusBadRequest)
		return
	}
	if err := s.reg.Delete(id); err != nil {
		writeUnknownBlock(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeUnknownBlock(w http.ResponseWriter, err error) {
	var unknown *registry.ErrUnknownBlock
	if errors.As(err, &unknown) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
