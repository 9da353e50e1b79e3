package security

import (
	"bytes"
	"crypto/hmac"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/services/gateway"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

const maxWebhookBody = 64 << 10

var (
	errMissingSignature = errors.New("missing signature headers")
	errStaleTimestamp   = errors.New("timestamp outside tolerance")
	errBadSignature     = errors.New("signature mismatch")
)

// WebhookVerifier checks the X-Timestamp / X-Signature pair the payment
// provider attaches to callbacks, using the same HMAC scheme as outbound
// gateway requests.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret, tolerance: 5 * time.Minute, now: time.Now}
}

func (v *WebhookVerifier) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		body, err := io.ReadAll(io.LimitReader(e.Request.Body, maxWebhookBody))
		if err != nil {
			return apis.NewBadRequestError("Failed to read body", nil)
		}
		e.Request.Body = io.NopCloser(bytes.NewReader(body))

		if err := v.Verify(e.Request, body); err != nil {
			slog.Warn("webhook rejected", "path", e.Request.URL.Path, "error", err)
			return apis.NewUnauthorizedError("Invalid webhook signature", nil)
		}
		return e.Next()
	}
}

func (v *WebhookVerifier) Verify(r *http.Request, body []byte) error {
	ts := r.Header.Get("X-Timestamp")
	sig := r.Header.Get("X-Signature")
	if ts == "" || sig == "" {
		return errMissingSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errStaleTimestamp
	}
	if d := v.now().Sub(time.Unix(unix, 0)); d > v.tolerance || d < -v.tolerance {
		return errStaleTimestamp
	}

	want := gateway.Sign(v.secret, r.Method, r.URL.Path, ts, body)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return errBadSignature
	}
	return nil
}
