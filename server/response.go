package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/teranos/wakeup/errors"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error body. Status comes from the error kind.
func writeError(w http.ResponseWriter, log *zap.SugaredLogger, err error) {
	status := statusFor(err)
	body := map[string]string{"error": err.Error()}
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		body["hint"] = hints[0]
	}
	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", "error", err)
		body["error"] = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

// readJSON decodes the request body into v
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid request body"), errors.ErrValidation)
	}
	return nil
}

// writeTwiML writes a provider webhook response. Webhooks always answer 200.
func writeTwiML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
