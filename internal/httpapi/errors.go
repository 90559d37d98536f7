package httpapi

import "net/http"

// errorResponse is the body for every non-2xx response ("4xx responses
// carry a single-line reason; 5xx responses carry a short identifier and
// do not leak stack traces").
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, errorResponse{Error: reason})
}

func clientError(w http.ResponseWriter, reason string) {
	writeError(w, http.StatusBadRequest, reason)
}

func backpressure(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "backpressure: retry with jitter")
}

func tooLarge(w http.ResponseWriter) {
	writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds configured size limit")
}

func serverError(w http.ResponseWriter, id string) {
	writeError(w, http.StatusInternalServerError, id)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="otlp2parquet"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}
