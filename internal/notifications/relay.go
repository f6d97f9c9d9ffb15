package notifications

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// RelayHandler is the HTTP surface of the email relay service.
type RelayHandler struct {
	mux    *http.ServeMux
	mailer *Mailer
}

// NewRelayHandler wires the relay routes onto a fresh mux.
func NewRelayHandler(mailer *Mailer) *RelayHandler {
	h := &RelayHandler{
		mux:    http.NewServeMux(),
		mailer: mailer,
	}
	h.mux.HandleFunc("/send-alert", h.handleSendAlert)
	h.mux.HandleFunc("/healthz", h.handleHealth)
	return h
}

func (h *RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *RelayHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *RelayHandler) handleSendAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg AlertMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.mailer.SendAlert(msg); err != nil {
		log.Error().Err(err).Str("vm", msg.VMName).Msg("Alert delivery failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"message": "Failed to send alert email."})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Alert email sent successfully."})
}
