package blockchain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vpnledger/internal/domainerr"
	"github.com/stretchr/testify/require"
)

func TestTransferTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transfers", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req transferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "0xabc", req.Address)
		require.Equal(t, "1.50000000", req.Amount)
		_ = json.NewEncoder(w).Encode(transferResponse{TxHash: "0xhash"})
	}))
	defer srv.Close()

	client := NewHTTPClientWith(srv.URL+"/", "secret", srv.Client())
	hash, err := client.TransferTokens(context.Background(), "0xabc", decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	require.Equal(t, "0xhash", hash)
}

func TestTransferTokensFailuresWrapPaymentFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(transferResponse{Error: "node unavailable"})
	}))
	defer srv.Close()

	_, err := NewHTTPClientWith(srv.URL, "", srv.Client()).TransferTokens(context.Background(), "0xabc", decimal.NewFromInt(1))
	require.ErrorIs(t, err, domainerr.ErrPaymentFailed)
	require.Contains(t, err.Error(), "node unavailable")

	_, err = NewHTTPClientWith("", "", nil).TransferTokens(context.Background(), "0xabc", decimal.NewFromInt(1))
	require.ErrorIs(t, err, domainerr.ErrPaymentFailed)
	require.ErrorIs(t, err, ErrNotConfigured)

	srv.Close()
	_, err = NewHTTPClientWith(srv.URL, "", http.DefaultClient).TransferTokens(context.Background(), "0xabc", decimal.NewFromInt(1))
	require.ErrorIs(t, err, domainerr.ErrPaymentFailed)
}
