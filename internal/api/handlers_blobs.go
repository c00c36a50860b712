package api

import (
	"net/http"
	"strings"
)

// handleGetBlob serves a stored attachment by its content reference.
// References are content hashes, so responses are immutable and
// cacheable forever.
func (s *APIServer) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/api/blobs/")
	if ref == "" || strings.Contains(ref, "/") {
		http.Error(w, "Invalid blob reference", http.StatusBadRequest)
		return
	}

	data, err := s.blobStore.Get(ref)
	if err != nil {
		http.Error(w, "Blob not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
