// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteCodedError(w, status, "", message)
}

// WriteCodedError writes a JSON error response carrying a machine readable code
func WriteCodedError(w http.ResponseWriter, status int, code, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// WriteInternalError writes an internal server error response (500 Internal Server Error)
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, err)
}

// WriteMethodNotAllowed writes a 405 with the Allow header set
func WriteMethodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
}

// NoCache marks the response as uncacheable by browsers and proxies
func NoCache(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-cache, no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "-1")
}

// RedirectNoCache issues a 302 redirect that must not be cached
func RedirectNoCache(w http.ResponseWriter, r *http.Request, location string) {
	NoCache(w)
	http.Redirect(w, r, location, http.StatusFound)
}
