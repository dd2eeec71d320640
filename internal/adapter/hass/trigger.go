package hass

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wrenhall/moneypots/internal/domain"
	"github.com/wrenhall/moneypots/internal/usecase/autosaver"
)

// EventHandler consumes playback events. Satisfied by the auto-saver.
type EventHandler interface {
	HandleEvent(ctx context.Context, event autosaver.Event) (*domain.TransferRecord, error)
}

// TriggerServer receives automation webhooks from Home Assistant and
// feeds them to the auto-saver. Event handling is synchronous: a 202
// means the event was processed, not merely queued.
type TriggerServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewTriggerServer builds the webhook server listening on addr.
func NewTriggerServer(addr string, handler EventHandler, log zerolog.Logger) *TriggerServer {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Post("/events/playback", handlePlayback(handler, log))

	return &TriggerServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

func handlePlayback(handler EventHandler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event autosaver.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			log.Warn().Err(err).Msg("rejecting malformed playback event")
			http.Error(w, "malformed event payload", http.StatusBadRequest)
			return
		}
		if event.EventID == "" {
			// Automations don't always carry an id; assign one so the
			// event is traceable through the logs and the response.
			event.EventID = uuid.NewString()
		}

		record, err := handler.HandleEvent(r.Context(), event)
		if err != nil {
			// The failure is already persisted in the ledger; the webhook
			// caller has nothing to retry.
			log.Error().Err(err).Str("event_id", event.EventID).Msg("playback event failed")
			http.Error(w, "event processing failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if record != nil {
			json.NewEncoder(w).Encode(map[string]string{
				"event_id":        event.EventID,
				"idempotency_key": record.IdempotencyKey,
				"status":          string(record.Status),
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"event_id": event.EventID,
			"status":   "ignored",
		})
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *TriggerServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info().Str("addr", s.server.Addr).Msg("trigger server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the router for tests.
func (s *TriggerServer) Handler() http.Handler {
	return s.server.Handler
}
