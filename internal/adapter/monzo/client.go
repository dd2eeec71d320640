// Package monzo executes pot deposits and withdrawals through the Monzo
// API. It is the system's transfer API: only the money mover calls it.
package monzo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/wrenhall/moneypots/internal/domain"
)

const defaultTimeout = 30 * time.Second

// PotRefPrefix marks a transfer reference as a Monzo pot. The direction of
// a transfer follows from which side carries the prefix: pot destination
// means deposit, pot source means withdrawal.
const PotRefPrefix = "pot_"

// Client implements domain.TransferAPI over the Monzo pots API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a transfer client with a static access token; token
// refresh is the external credential provider's concern.
func NewClient(baseURL, token string) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = defaultTimeout

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// Transfer moves money between an account and a pot. The request's
// idempotency key is passed through as the Monzo dedupe_id, so the
// external dedup lines up with the ledger's.
func (c *Client) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	var endpoint string
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("dedupe_id", req.IdempotencyKey)

	switch {
	case strings.HasPrefix(req.DestinationRef, PotRefPrefix):
		endpoint = fmt.Sprintf("%s/pots/%s/deposit", c.baseURL, req.DestinationRef)
		form.Set("source_account_id", req.SourceRef)
	case strings.HasPrefix(req.SourceRef, PotRefPrefix):
		endpoint = fmt.Sprintf("%s/pots/%s/withdraw", c.baseURL, req.SourceRef)
		form.Set("destination_account_id", req.DestinationRef)
	default:
		return nil, &domain.APIError{
			Kind:    domain.FailureDefinitive,
			Message: fmt.Sprintf("neither %s nor %s is a pot reference", req.SourceRef, req.DestinationRef),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// No response for a call with side effects: the outcome is unknown
		// and must never be guessed.
		return nil, &domain.APIError{
			Kind:    domain.FailureAmbiguous,
			Message: "no response from transfer API",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyTransferFailure(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// The pots API acknowledges with the mutated pot object. Its id, with
	// the dedupe_id already in the ledger, is the reference manual
	// reconciliation needs. The money has moved by now, so a malformed
	// acknowledgement body falls back to the idempotency key rather than
	// failing the transfer.
	var ack struct {
		ID string `json:"id"`
	}
	transferID := req.IdempotencyKey
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.ID != "" {
		transferID = ack.ID
	}

	return &domain.TransferResult{
		TransferID: transferID,
		Status:     "completed",
	}, nil
}

// classifyTransferFailure maps a transfer rejection onto the failure
// taxonomy. Monzo reports insufficient balance as a 400 with an error
// code; like other 4xx rejections it is definitive and not retried.
func classifyTransferFailure(status int, body string) error {
	apiErr := domain.APIErrorFromStatus(status, body)
	if strings.Contains(body, "insufficient") {
		apiErr.Kind = domain.FailureDefinitive
	}
	return apiErr
}
