package cloudclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/security"
)

func TestUploadPostsToProcess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(security.Envelope{Nonce: 1, Payload: "ok", MAC: "ff"})
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "gw-1")
	env, status, err := c.Upload(context.Background(), &security.Envelope{Nonce: 10_000, Payload: "abc", MAC: "dead"})
	require.NoError(t, err)
	assert.Equal(t, "/process", gotPath)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint32(1), env.Nonce)
}

func TestFetchConfigBuildsDevicePath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(security.Envelope{})
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "gw-42")
	_, _, err := c.FetchConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/config/gw-42", gotPath)
}

func TestPendingCommandsQueryParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(security.Envelope{})
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "gw-7")
	_, _, err := c.PendingCommands(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "device=gw-7", gotQuery)
}

func TestNonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "gw-1")
	_, status, err := c.Upload(context.Background(), &security.Envelope{})
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealthIsUnwrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "gw-1")
	require.NoError(t, c.Health(context.Background()))
}
