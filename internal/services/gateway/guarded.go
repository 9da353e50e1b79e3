package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/monitoring"
	"github.com/iGETsense/Devil-POOl-sub000/utils"
)

// Guarded applies a per-call timeout and a circuit breaker around another
// Gateway and records call metrics.
type Guarded struct {
	next    Gateway
	breaker *utils.CircuitBreaker
	timeout time.Duration
}

func NewGuarded(next Gateway, timeout time.Duration) *Guarded {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	breaker := utils.NewCircuitBreaker("payment-gateway", utils.BreakerSettings{
		IsSuccessful: func(err error) bool {
			// A rejection is a healthy provider saying no.
			var gwErr *status.GatewayError
			return err == nil || (errors.As(err, &gwErr) && !gwErr.Temporary)
		},
		OnStateChange: func(name string, from, to utils.State) {
			slog.Warn("gateway circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			monitoring.TrackBreakerState(name, int(to))
		},
	})
	return &Guarded{next: next, breaker: breaker, timeout: timeout}
}

func (g *Guarded) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	return guard(ctx, g, "initiate", func(ctx context.Context) (*InitiateResponse, error) {
		return g.next.Initiate(ctx, req)
	})
}

func (g *Guarded) CheckStatus(ctx context.Context, providerTxID string) (*StatusResponse, error) {
	return guard(ctx, g, "check_status", func(ctx context.Context) (*StatusResponse, error) {
		return g.next.CheckStatus(ctx, providerTxID)
	})
}

func (g *Guarded) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResponse, error) {
	return guard(ctx, g, "withdraw", func(ctx context.Context) (*WithdrawResponse, error) {
		return g.next.Withdraw(ctx, req)
	})
}

func (g *Guarded) Balance(ctx context.Context) ([]Balance, error) {
	return guard(ctx, g, "balance", func(ctx context.Context) ([]Balance, error) {
		return g.next.Balance(ctx)
	})
}

func guard[T any](ctx context.Context, g *Guarded, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	res, err := g.breaker.Execute(ctx, func() (any, error) {
		return fn(ctx)
	})
	monitoring.TrackGatewayCall(op, err, time.Since(start))

	if err != nil {
		switch {
		case errors.Is(err, utils.ErrCircuitOpen), errors.Is(err, utils.ErrTooManyRequests):
			return zero, &status.GatewayError{Code: "UNAVAILABLE", Message: "payment provider temporarily unavailable", Temporary: true}
		case errors.Is(err, context.DeadlineExceeded):
			return zero, &status.GatewayError{Code: "TIMEOUT", Message: "payment provider did not answer in time", Temporary: true}
		}
		return zero, err
	}
	return res.(T), nil
}
