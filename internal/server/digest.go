package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	digest, err := s.eng.Digest(r.Context(), chi.URLParam(r, "principalID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(digest))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"digest": digest})
}
