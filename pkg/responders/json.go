package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes payload as an application/json response with the given status.
// HTML escaping is disabled so checkout URLs render verbatim.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// listEnvelope wraps collection responses.
type listEnvelope struct {
	Object string `json:"object"`
	Data   any    `json:"data"`
}

// List writes a collection response in the standard list envelope.
func List(w http.ResponseWriter, status int, items any) {
	JSON(w, status, listEnvelope{Object: "list", Data: items})
}
