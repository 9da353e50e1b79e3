package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/shopspring/decimal"
)

type ClientConfig struct {
	BaseURL string
	AppKey  string
	Secret  string
	Timeout time.Duration
}

// Client talks to the gateway's REST API. Every request body is signed with
// HMAC-SHA256 over method, path, timestamp and body.
type Client struct {
	// baseURL is the gateway API root.
	baseURL string

	// appKey identifies this merchant application.
	appKey string

	// secret signs request bodies.
	secret string

	hc *http.Client

	now func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		appKey:  cfg.AppKey,
		secret:  cfg.Secret,
		hc:      &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type collectReply struct {
	Success     bool   `json:"success"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Reference   string `json:"reference"`
	Transaction struct {
		PK     string `json:"pk"`
		Status string `json:"status"`
	} `json:"transaction"`
}

type errorReply struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway initiate: marshal: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/payment/collect", body)
	if err != nil {
		return nil, err
	}

	var reply collectReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("gateway initiate: decode: %w", err)
	}
	if reply.Transaction.PK == "" {
		msg := reply.Message
		if msg == "" {
			msg = "payment was not accepted"
		}
		return nil, &status.GatewayError{Code: reply.Status, Message: msg}
	}

	st := NormalizeStatus(reply.Transaction.Status)
	if reply.Transaction.Status == "" {
		st = NormalizeStatus(reply.Status)
	}
	if st == models.TransactionFailed {
		return nil, &status.GatewayError{Code: "FAILED", Message: reply.Message}
	}

	return &InitiateResponse{ProviderTxID: reply.Transaction.PK, Status: st, Raw: raw}, nil
}

func (c *Client) CheckStatus(ctx context.Context, providerTxID string) (*StatusResponse, error) {
	raw, err := c.do(ctx, http.MethodGet, "/payment/transactions/"+url.PathEscape(providerTxID), nil)
	if err != nil {
		return nil, err
	}

	var reply struct {
		PK     string `json:"pk"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("gateway check status: decode: %w", err)
	}

	return &StatusResponse{Status: NormalizeStatus(reply.Status), Raw: raw}, nil
}

func (c *Client) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway withdraw: marshal: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/payment/deposit", body)
	if err != nil {
		return nil, err
	}

	var reply collectReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("gateway withdraw: decode: %w", err)
	}
	st := NormalizeStatus(reply.Status)
	if !reply.Success && st != models.TransactionPending {
		return nil, &status.GatewayError{Code: reply.Status, Message: reply.Message}
	}

	ref := reply.Reference
	if ref == "" {
		ref = reply.Transaction.PK
	}
	return &WithdrawResponse{Status: st, Reference: ref, Raw: raw}, nil
}

func (c *Client) Balance(ctx context.Context) ([]Balance, error) {
	raw, err := c.do(ctx, http.MethodGet, "/payment/status", nil)
	if err != nil {
		return nil, err
	}

	var reply struct {
		Balances []struct {
			Provider string          `json:"provider"`
			Value    decimal.Decimal `json:"value"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("gateway balance: decode: %w", err)
	}

	out := make([]Balance, 0, len(reply.Balances))
	for _, b := range reply.Balances {
		out = append(out, Balance{Provider: b.Provider, Value: b.Value})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ts := strconv.FormatInt(c.now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway %s %s: http.NewReq: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Key", c.appKey)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", Sign(c.secret, method, path, ts, body))

	resp, err := c.hc.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &status.GatewayError{Code: "TIMEOUT", Message: "payment provider did not answer in time", Temporary: true}
		}
		return nil, fmt.Errorf("gateway %s %s: http.Do: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway %s %s: read: %w", method, path, err)
	}

	if resp.StatusCode >= 300 {
		var reply errorReply
		if err := json.Unmarshal(raw, &reply); err != nil || reply.Detail == "" {
			reply.Detail = http.StatusText(resp.StatusCode)
		}
		if reply.Code == "" {
			reply.Code = strconv.Itoa(resp.StatusCode)
		}
		return nil, &status.GatewayError{Code: reply.Code, Message: reply.Detail}
	}

	return raw, nil
}

// Sign computes the request signature. The webhook verifier uses the same
// scheme for inbound callbacks.
func Sign(secret, method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method + "\n" + path + "\n" + timestamp + "\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
