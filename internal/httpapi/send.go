package httpapi

import (
	"fmt"
	"net/http"

	"github.com/vinhquevu/angora/internal/message"
)

// handleSend injects a trigger message onto the bus — the read API's
// one write endpoint, grounded on the original system's `/send` route.
// Rate limited so a misbehaving client can't flood the ingress queue.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
		return
	}

	q := r.URL.Query()
	label := q.Get("message")
	if label == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}
	params := q["params"]

	env, err := message.New(s.Exchange, s.IngressName, label, params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	env = env.WithRoutingKey(s.IngressName)

	data, err := env.Marshal()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.Publish.Publish(r.Context(), s.IngressName, data); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeOK(w, map[string]string{"message": label})
}
