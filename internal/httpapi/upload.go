package httpapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/harmonia/harmonia/internal/midi"
)

// maxUploadBytes caps a single multipart request; an SMF file for a laptop
// orchestra block is never anywhere near this large.
const maxUploadBytes = 64 << 20

// uploadResult is one entry of the per-file response array (spec.md §6
// "POST /blocks multipart MIDI upload -> returns [{Ok:{...}} | {Err: string}]
// per file").
type uploadResult struct {
	Ok  *uploadOK `json:"Ok,omitempty"`
	Err string    `json:"Err,omitempty"`
}

type uploadOK struct {
	FileName    string    `json:"file_name"`
	Format      int       `json:"format"`
	TracksCount int       `json:"tracks_count"`
	BlockID     uuid.UUID `json:"block_id"`
}

// handleUpload accepts one or more MIDI files, parses each, stores its raw
// bytes in the content-addressed cache, and inserts a new block per file.
// A per-file failure (bad SMF, unsupported format 2) never aborts the
// other files in the same request.
//
// @Summary      Upload MIDI blocks
// @Description  Parses one or more multipart MIDI files and registers each as a playable block.
// @Tags         blocks
// @Accept       multipart/form-data
// @Produce      json
// @Success      200 {array} uploadResult
// @Router       /blocks [post]
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		http.Error(w, "no files under form field \"file\"", http.StatusBadRequest)
		return
	}

	results := make([]uploadResult, 0, len(files))
	for _, fh := range files {
		results = append(results, s.ingestOne(fh.Filename, fh))
	}
	writeJSON(w, results)
}

func (s *Server) ingestOne(fileName string, fh *multipart.FileHeader) uploadResult {
	f, err := fh.Open()
	if err != nil {
		return uploadResult{Err: err.Error()}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return uploadResult{Err: err.Error()}
	}

	parsed, err := midi.Parse(data)
	if err != nil {
		var unsupported *midi.ErrUnsupportedFormat
		if errors.As(err, &unsupported) {
			return uploadResult{Err: unsupported.Error()}
		}
		return uploadResult{Err: err.Error()}
	}

	digest, err := s.cache.Put(data)
	if err != nil {
		return uploadResult{Err: err.Error()}
	}

	block := parsedToBlock(parsed, fileName, digest)
	id := s.reg.Insert(block)
	log.Infof("httpapi: ingested block %s (%s, %d tracks)", id, fileName, parsed.TracksCount)

	return uploadResult{Ok: &uploadOK{
		FileName:    fileName,
		Format:      parsed.Format,
		TracksCount: parsed.TracksCount,
		BlockID:     id,
	}}
}
