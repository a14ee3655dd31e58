package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/itemsync/internal/syncerr"
)

func TestDoDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/items", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("project"))
		assert.Equal(t, "application/json-patch+json", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "", user)
		assert.Equal(t, "pat", pass)

		var body []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "add", body[0]["op"])

		w.Write([]byte(`{"id": 9007199254740993, "name": "x"}`))
	}))
	defer srv.Close()

	c, err := New("ado", srv.URL+"/api/", WithBasicAuth("", "pat"))
	require.NoError(t, err)

	var out map[string]any
	err = c.Do(context.Background(), "create", Request{
		Method:      http.MethodPost,
		Path:        "v1/items",
		Query:       url.Values{"project": {"7"}},
		Body:        []map[string]any{{"op": "add"}},
		ContentType: "application/json-patch+json",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), out["id"])
}

func TestDoClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		transient bool
	}{
		{http.StatusBadRequest, "HTTP_400", false},
		{http.StatusUnauthorized, "UNAUTHORIZED", false},
		{http.StatusNotFound, "NOT_FOUND", false},
		{http.StatusTooManyRequests, "RATE_LIMITED", true},
		{http.StatusBadGateway, "UNAVAILABLE", true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c, err := New("jama", srv.URL)
			require.NoError(t, err)
			err = c.Do(context.Background(), "query", Request{Method: http.MethodGet, Path: "x"}, nil)

			se, ok := syncerr.As(err)
			require.True(t, ok)
			assert.Equal(t, syncerr.KindProvider, se.Kind)
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, tt.transient, se.Transient)
			assert.Contains(t, se.Message, "nope")
		})
	}
}

func TestDoNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New("jama", base)
	require.NoError(t, err)
	err = c.Do(context.Background(), "query", Request{Method: http.MethodGet, Path: "x"}, nil)
	assert.True(t, syncerr.IsTransient(err))
}

func TestDoCanceledIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, err := New("jama", srv.URL)
	require.NoError(t, err)
	err = c.Do(ctx, "query", Request{Method: http.MethodGet, Path: "x"}, nil)
	require.Error(t, err)
	assert.False(t, syncerr.IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("jama", "not a url")
	assert.True(t, syncerr.IsKind(err, syncerr.KindConfiguration))
}
