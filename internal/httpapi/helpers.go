package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
)

// writeJSON mirrors the teacher's helpers.go writeJSON: set the content
// type, encode, and let json.Encoder's own write errors surface as a
// broken connection rather than a second response write.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// requireMethod checks the HTTP method and sends 405 if it doesn't match.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleGet registers a GET handler with an automatic method check. Uses
// Go's 1.22+ ServeMux pattern syntax ("GET /blocks/{id}/source") directly,
// so the explicit method check here only guards against a caller
// registering a bare path without a method verb.
func handleGet(mux *http.ServeMux, pattern string, fn func(http.ResponseWriter, *http.Request)) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		fn(w, r)
	})
}

// handlePostAction registers a POST handler with no JSON body decoding —
// the endpoint either has no request body, reads a multipart form itself,
// or reads a plain form (spec.md §6 "POST /blocks/{id} (form body)").
func handlePostAction(mux *http.ServeMux, pattern string, fn func(http.ResponseWriter, *http.Request)) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		fn(w, r)
	})
}

func handleDelete(mux *http.ServeMux, pattern string, fn func(http.ResponseWriter, *http.Request)) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodDelete) {
			return
		}
		fn(w, r)
	})
}

// isLocalRequest reports whether r originated from the loopback interface.
// Grounded on internal/viewer/routes/helpers.go's isLocalRequest — the
// /interrupt endpoint accepts only loopback callers (spec.md §6).
func isLocalRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
