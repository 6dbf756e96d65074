package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueryString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/login?state=abc", nil)

	assert.Equal(t, "abc", ParseQueryString(r, "state", ""))
	assert.Equal(t, "/", ParseQueryString(r, "path", "/"))
}

func TestParseQueryBool(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		defaultVal bool
		want       bool
		wantErr    bool
	}{
		{name: "true", query: "?flag=true", want: true},
		{name: "one", query: "?flag=1", want: true},
		{name: "false", query: "?flag=false", defaultVal: true, want: false},
		{name: "absent uses default", query: "", defaultVal: true, want: true},
		{name: "invalid", query: "?flag=maybe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/login"+tt.query, nil)
			got, err := ParseQueryBool(r, "flag", tt.defaultVal)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryOptionalBool(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/login", nil)
	got, err := ParseQueryOptionalBool(r, "showOrganizationField")
	require.NoError(t, err)
	assert.Nil(t, got)

	r = httptest.NewRequest(http.MethodGet, "/login?showOrganizationField=false", nil)
	got, err = ParseQueryOptionalBool(r, "showOrganizationField")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, *got)

	r = httptest.NewRequest(http.MethodGet, "/login?showOrganizationField=nope", nil)
	_, err = ParseQueryOptionalBool(r, "showOrganizationField")
	assert.Error(t, err)
}

func TestParseQueryStringOrError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/inspect", nil)

	_, ok := ParseQueryStringOrError(w, r, "token")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing query parameter: token")
}
