package hass

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_Publish(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload statePayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := NewSink(server.URL, "hass-token")
	err := sink.Publish(context.Background(), "var.balance_monzo_personal", "123.45", map[string]string{
		"currency": "GBP",
		"stale":    "false",
	})

	require.NoError(t, err)
	assert.Equal(t, "/api/states/var.balance_monzo_personal", gotPath)
	assert.Equal(t, "Bearer hass-token", gotAuth)
	assert.Equal(t, "123.45", gotPayload.State)
	assert.Equal(t, "GBP", gotPayload.Attributes["currency"])
}

func TestSink_Publish_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sink := NewSink(server.URL, "bad-token")
	err := sink.Publish(context.Background(), "var.balance_monzo_personal", "0.00", nil)

	assert.Error(t, err)
}

func TestSink_Publish_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	sink := NewSink(server.URL, "hass-token")
	err := sink.Publish(context.Background(), "var.balance_monzo_personal", "0.00", nil)

	assert.Error(t, err)
}
