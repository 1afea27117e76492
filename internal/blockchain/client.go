// Package blockchain is the HTTP boundary to the external token transfer
// service used by withdrawals.
package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vpnledger/internal/config"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"github.com/smallbiznis/vpnledger/internal/observability/tracing"
)

var ErrNotConfigured = errors.New("blockchain_endpoint_not_configured")

type Client interface {
	TransferTokens(ctx context.Context, address string, amount decimal.Decimal) (string, error)
}

type HTTPClient struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPClient(cfg config.Config) Client {
	timeout := cfg.Blockchain.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewHTTPClientWith(cfg.Blockchain.Endpoint, cfg.Blockchain.APIToken,
		tracing.WrapHTTPClient(&http.Client{Timeout: timeout}))
}

func NewHTTPClientWith(endpoint, token string, client *http.Client) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		token:    token,
		client:   client,
	}
}

type transferRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type transferResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

// TransferTokens wraps every failure in domainerr.ErrPaymentFailed.
func (c *HTTPClient) TransferTokens(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("%w: %w", domainerr.ErrPaymentFailed, ErrNotConfigured)
	}
	body, err := json.Marshal(transferRequest{Address: address, Amount: amount.StringFixed(8)})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domainerr.ErrPaymentFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domainerr.ErrPaymentFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domainerr.ErrPaymentFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domainerr.ErrPaymentFailed, err)
	}
	var out transferResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("%w: transfer rejected with status %d: %s", domainerr.ErrPaymentFailed, resp.StatusCode, msg)
	}
	if strings.TrimSpace(out.TxHash) == "" {
		return "", fmt.Errorf("%w: transfer response missing tx hash", domainerr.ErrPaymentFailed)
	}
	return out.TxHash, nil
}
