package server

import (
	"net/http"

	"github.com/lazypower/confidant/internal/commands"
	"github.com/lazypower/confidant/internal/errs"
)

// handleMessage is the transport webhook. It always answers with a reply the
// adapter can deliver; a retryable failure is signalled with 503.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From  string `json:"from"`
		Text  string `json:"text"`
		Kind  string `json:"kind"`
		Audio []byte `json:"audio"`
		MIME  string `json:"mime"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	reply, err := s.cmds.Handle(r.Context(), commands.Message{
		From:  req.From,
		Text:  req.Text,
		Kind:  req.Kind,
		Audio: req.Audio,
		MIME:  req.MIME,
	})
	status := http.StatusOK
	if errs.Is(err, errs.KindTransient) {
		status = http.StatusServiceUnavailable
	} else if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"to": reply.To, "text": reply.Text})
}
