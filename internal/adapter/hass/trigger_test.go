package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenhall/moneypots/internal/domain"
	"github.com/wrenhall/moneypots/internal/usecase/autosaver"
)

type stubEventHandler struct {
	gotEvent autosaver.Event
	record   *domain.TransferRecord
	err      error
}

func (s *stubEventHandler) HandleEvent(_ context.Context, event autosaver.Event) (*domain.TransferRecord, error) {
	s.gotEvent = event
	return s.record, s.err
}

func newTestServer(handler EventHandler) *httptest.Server {
	ts := NewTriggerServer(":0", handler, zerolog.Nop())
	return httptest.NewServer(ts.Handler())
}

func TestTriggerServer_PlaybackAccepted(t *testing.T) {
	handler := &stubEventHandler{
		record: &domain.TransferRecord{
			IdempotencyKey: "autosave-track42-1756166400",
			Status:         domain.TransferCommitted,
		},
	}
	server := newTestServer(handler)
	defer server.Close()

	body, _ := json.Marshal(autosaver.Event{
		EventID:    "evt-1",
		TrackID:    "track42",
		Title:      "Some Song",
		OccurredAt: time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
	})
	resp, err := http.Post(server.URL+"/events/playback", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "track42", handler.gotEvent.TrackID)

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "autosave-track42-1756166400", decoded["idempotency_key"])
}

func TestTriggerServer_IgnoredEventStillAccepted(t *testing.T) {
	handler := &stubEventHandler{} // nil record, nil error: event dropped
	server := newTestServer(handler)
	defer server.Close()

	body, _ := json.Marshal(autosaver.Event{EventID: "evt-2"})
	resp, err := http.Post(server.URL+"/events/playback", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, "ignored", decoded["status"])
}

func TestTriggerServer_AssignsMissingEventID(t *testing.T) {
	handler := &stubEventHandler{}
	server := newTestServer(handler)
	defer server.Close()

	body, _ := json.Marshal(autosaver.Event{TrackID: "track42"})
	resp, err := http.Post(server.URL+"/events/playback", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, handler.gotEvent.EventID)

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, handler.gotEvent.EventID, decoded["event_id"])
}

func TestTriggerServer_MalformedPayload(t *testing.T) {
	server := newTestServer(&stubEventHandler{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/events/playback", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTriggerServer_HandlerFailure(t *testing.T) {
	handler := &stubEventHandler{err: errors.New("ledger unavailable")}
	server := newTestServer(handler)
	defer server.Close()

	body, _ := json.Marshal(autosaver.Event{EventID: "evt-3", TrackID: "track42"})
	resp, err := http.Post(server.URL+"/events/playback", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestTriggerServer_Healthz(t *testing.T) {
	server := newTestServer(&stubEventHandler{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
