package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/example/reelhub/internal/apperr"
)

// envelope is the success response shape.
type envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// errorEnvelope is the error response shape. Errors is never null.
type errorEnvelope struct {
	StatusCode int      `json:"statusCode"`
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Errors     []string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{StatusCode: status, Data: data, Message: message, Success: status < 400})
}

// respondError renders err for the client. Internal errors are logged with
// their cause and shown as a generic failure.
func (a *App) respondError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internalf(err, "unhandled error")
	}

	switch e.Kind {
	case apperr.Internal:
		a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	case apperr.SessionCompromised, apperr.Authentication:
		a.log.Warn("authentication rejected", "kind", e.Kind, "path", r.URL.Path, "remote", clientIP(r))
	default:
		a.log.Debug("request rejected", "kind", e.Kind, "path", r.URL.Path, "error", err)
	}

	details := e.Details
	if e.Kind == apperr.Internal || details == nil {
		details = []string{}
	}
	writeJSON(w, e.StatusCode, errorEnvelope{
		StatusCode: e.StatusCode,
		Success:    false,
		Message:    e.PublicMessage(),
		Errors:     details,
	})
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return nil
	}
	return apperr.Wrap(apperr.Validation, "invalid request body", err)
}
