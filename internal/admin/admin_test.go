package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateDERControl(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody DERControlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret", discardLogger())
	require.NoError(t, err)

	imp := 5000.0
	err = c.CreateDERControl(context.Background(), DERControlRequest{
		GroupID:         1,
		StartTime:       time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
		DurationSeconds: 300,
		ImportLimitW:    &imp,
	})
	require.NoError(t, err)

	assert.Equal(t, "/control", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, int64(1), gotBody.GroupID)
	require.NotNil(t, gotBody.ImportLimitW)
	assert.Equal(t, 5000.0, *gotBody.ImportLimitW)
}

func TestNon2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "", discardLogger())
	require.NoError(t, err)

	err = c.CancelActiveDERControls(context.Background())
	assert.Error(t, err)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "", discardLogger())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Error(t, c.CancelActiveDERControls(context.Background()))
	}
	assert.Equal(t, 3, requests, "the open breaker short-circuits further calls")
}
