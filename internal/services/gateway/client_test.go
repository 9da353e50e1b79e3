package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{BaseURL: srv.URL + "/", AppKey: "app", Secret: "secret", Timeout: time.Second})
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestClientInitiateSignsRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment/collect", r.URL.Path)
		assert.Equal(t, "app", r.Header.Get("X-App-Key"))
		assert.Equal(t, "1700000000", r.Header.Get("X-Timestamp"))
		assert.Equal(t, Sign("secret", http.MethodPost, "/payment/collect", "1700000000", body), r.Header.Get("X-Signature"))

		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "MTN", req["service"])
		assert.Equal(t, "670000000", req["payer"])

		w.Write([]byte(`{"success":true,"status":"PENDING","transaction":{"pk":"gw-1","status":"PENDING"}}`))
	})

	res, err := c.Initiate(context.Background(), InitiateRequest{
		Amount:    decimal.NewFromInt(5000),
		Payer:     "670000000",
		Provider:  "MTN",
		Reference: "ref-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "gw-1", res.ProviderTxID)
	assert.Equal(t, models.TransactionPending, res.Status)
	assert.NotEmpty(t, res.Raw)
}

func TestClientInitiateRejections(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		wantCode string
	}{
		{"no transaction", http.StatusOK, `{"success":false,"status":"ERROR","message":"payer not registered"}`, "ERROR"},
		{"failed", http.StatusOK, `{"success":false,"message":"declined","transaction":{"pk":"gw-2","status":"FAILED"}}`, "FAILED"},
		{"http error", http.StatusBadRequest, `{"code":"insufficient-funds","detail":"payer balance too low"}`, "insufficient-funds"},
		{"http error without body", http.StatusBadGateway, ``, "502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			})

			_, err := c.Initiate(context.Background(), InitiateRequest{Amount: decimal.NewFromInt(1), Payer: "670000000", Provider: "MTN"})
			var gwErr *status.GatewayError
			require.True(t, errors.As(err, &gwErr), "got %v", err)
			assert.Equal(t, tt.wantCode, gwErr.Code)
			assert.False(t, gwErr.Temporary)
		})
	}
}

func TestClientCheckStatus(t *testing.T) {
	tests := []struct {
		reported string
		want     models.TransactionStatus
	}{
		{"SUCCESSFUL", models.TransactionSuccess},
		{"success", models.TransactionSuccess},
		{"EXPIRED", models.TransactionFailed},
		{"PROCESSING", models.TransactionPending},
		{"", models.TransactionPending},
	}

	for _, tt := range tests {
		t.Run(tt.reported, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/payment/transactions/gw-1", r.URL.Path)
				json.NewEncoder(w).Encode(map[string]string{"pk": "gw-1", "status": tt.reported})
			})

			res, err := c.CheckStatus(context.Background(), "gw-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestClientTimeoutIsTemporary(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.CheckStatus(ctx, "gw-1")
	var gwErr *status.GatewayError
	require.True(t, errors.As(err, &gwErr), "got %v", err)
	assert.True(t, gwErr.Temporary)
}

func TestClientBalanceAndWithdraw(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payment/status":
			w.Write([]byte(`{"balances":[{"provider":"MTN","value":"12500.50"},{"provider":"ORANGE","value":0}]}`))
		case "/payment/deposit":
			w.Write([]byte(`{"success":true,"status":"SUCCESS","reference":"wd-9"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	balances, err := c.Balance(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "MTN", balances[0].Provider)
	assert.True(t, balances[0].Value.Equal(decimal.RequireFromString("12500.50")))

	res, err := c.Withdraw(context.Background(), WithdrawRequest{Amount: decimal.NewFromInt(100), Payer: "670000000", Provider: "MTN"})
	require.NoError(t, err)
	assert.Equal(t, models.TransactionSuccess, res.Status)
	assert.Equal(t, "wd-9", res.Reference)
}

func TestSignDependsOnEveryPart(t *testing.T) {
	base := Sign("s", "POST", "/p", "1", []byte("{}"))
	assert.Len(t, base, 64)
	assert.NotEqual(t, base, Sign("x", "POST", "/p", "1", []byte("{}")))
	assert.NotEqual(t, base, Sign("s", "GET", "/p", "1", []byte("{}")))
	assert.NotEqual(t, base, Sign("s", "POST", "/q", "1", []byte("{}")))
	assert.NotEqual(t, base, Sign("s", "POST", "/p", "2", []byte("{}")))
	assert.NotEqual(t, base, Sign("s", "POST", "/p", "1", []byte("{ }")))
}

func TestProviderFor(t *testing.T) {
	assert.Equal(t, "MTN", ProviderFor(models.OperatorMobileA))
	assert.Equal(t, "ORANGE", ProviderFor(models.OperatorMobileB))
	assert.Equal(t, "", ProviderFor(models.OperatorCash))
}
