// Package handler holds the ops HTTP handlers served next to the worker.
package handler

import (
	"encoding/json"
	"net/http"
)

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
