package httputil

import (
	"fmt"
	"net/http"
	"strconv"
)

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// ParseQueryBool extracts and parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(str)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for query param %s: %s", key, str)
	}
	return val, nil
}

// ParseQueryOptionalBool is ParseQueryBool for parameters whose absence is
// distinct from false. It returns nil when the parameter is not present.
func ParseQueryOptionalBool(r *http.Request, key string) (*bool, error) {
	if !r.URL.Query().Has(key) {
		return nil, nil
	}
	val, err := ParseQueryBool(r, key, false)
	if err != nil {
		return nil, err
	}
	return &val, nil
}

// ParseQueryStringOrError extracts a required string query parameter and
// writes a 400 when it is missing
func ParseQueryStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val := r.URL.Query().Get(key)
	if val == "" {
		WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("missing query parameter: %s", key))
		return "", false
	}
	return val, true
}
