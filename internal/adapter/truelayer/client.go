// Package truelayer reads account and card balances through the TrueLayer
// data API. One authenticated HTTP client per configured bank.
package truelayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"github.com/wrenhall/moneypots/internal/domain"
)

const defaultTimeout = 30 * time.Second

// CardIDPrefix routes an account identifier to the cards endpoint instead
// of the accounts endpoint (e.g. "card/9df2...").
const CardIDPrefix = "card/"

// Client implements domain.AccountSource over the TrueLayer API.
type Client struct {
	baseURL string
	clients map[domain.BankRef]*http.Client
}

// NewClient creates a balance source for the given per-bank access tokens.
// Token acquisition and refresh live with the external credential
// provider; this client only attaches what it is given.
func NewClient(baseURL string, tokens map[domain.BankRef]string) *Client {
	clients := make(map[domain.BankRef]*http.Client, len(tokens))
	for bank, token := range tokens {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client := oauth2.NewClient(context.Background(), src)
		client.Timeout = defaultTimeout
		clients[bank] = client
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		clients: clients,
	}
}

// balanceResponse mirrors the TrueLayer balance payload. Amounts are
// decoded as exact decimals, never floats.
type balanceResponse struct {
	Results []struct {
		Current         decimal.Decimal `json:"current"`
		Currency        string          `json:"currency"`
		UpdateTimestamp time.Time       `json:"update_timestamp"`
	} `json:"results"`
}

// Balance fetches the current balance of one account or card in minor
// units. Failures are classified so the aggregator can choose
// stale-retain over fail-fast.
func (c *Client) Balance(ctx context.Context, bank domain.BankRef, accountID string) (*domain.AccountBalance, error) {
	client, ok := c.clients[bank]
	if !ok {
		return nil, &domain.APIError{
			Kind:    domain.FailureUnauthorized,
			Message: fmt.Sprintf("no credentials for bank %s", bank),
		}
	}

	url := c.balanceURL(accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		// A failed read has no side effects: the service is unavailable.
		return nil, &domain.APIError{
			Kind:    domain.FailureUnavailable,
			Message: fmt.Sprintf("balance fetch for %s", accountID),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, domain.APIErrorFromStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}
	if len(payload.Results) == 0 {
		return nil, errors.New("balance response contains no results")
	}

	result := payload.Results[0]
	amountMinor, err := domain.MajorToMinor(result.Current)
	if err != nil {
		return nil, fmt.Errorf("balance for %s: %w", accountID, err)
	}

	asOf := result.UpdateTimestamp
	if asOf.IsZero() {
		asOf = time.Now()
	}

	return &domain.AccountBalance{
		AmountMinor: amountMinor,
		Currency:    result.Currency,
		AsOf:        asOf,
	}, nil
}

// balanceURL picks the accounts or cards endpoint from the identifier.
func (c *Client) balanceURL(accountID string) string {
	if id, ok := strings.CutPrefix(accountID, CardIDPrefix); ok {
		return fmt.Sprintf("%s/data/v1/cards/%s/balance", c.baseURL, id)
	}
	return fmt.Sprintf("%s/data/v1/accounts/%s/balance", c.baseURL, accountID)
}
