package services

import (
	"context"
	"errors"
	"testing"

	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/internal/services/gateway"
	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResponse, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.InitiateResponse)
	return res, args.Error(1)
}

func (m *MockGateway) CheckStatus(ctx context.Context, providerTxID string) (*gateway.StatusResponse, error) {
	args := m.Called(ctx, providerTxID)
	res, _ := args.Get(0).(*gateway.StatusResponse)
	return res, args.Error(1)
}

func (m *MockGateway) Withdraw(ctx context.Context, req gateway.WithdrawRequest) (*gateway.WithdrawResponse, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.WithdrawResponse)
	return res, args.Error(1)
}

func (m *MockGateway) Balance(ctx context.Context) ([]gateway.Balance, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]gateway.Balance)
	return res, args.Error(1)
}

func seedTransaction(t *testing.T, env *testEnv, id string, names ...string) {
	t.Helper()
	tx := &models.Transaction{
		ID:        id,
		BookingID: "BK" + id,
		Amount:    5000,
		Status:    models.TransactionPending,
		Provider:  "MTN",
		Metadata: &models.TransactionMetadata{
			Phone:    testPhone,
			PassType: models.PassSingleA,
			Operator: models.OperatorMobileA,
			Names:    names,
		},
	}
	created, err := env.store.Create(context.Background(), ledger.Transactions, id, tx)
	require.NoError(t, err)
	require.True(t, created)
}

func TestSyncJob_IsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedTransaction(t, env, "gw-ok", "Ada")
	seedTransaction(t, env, "gw-down", "Bea")
	seedTransaction(t, env, "gw-wait", "Cal")
	seedTransaction(t, env, "gw-fail", "Dee")

	gw := &MockGateway{}
	gw.On("CheckStatus", mock.Anything, "gw-ok").Return(&gateway.StatusResponse{Status: models.TransactionSuccess}, nil)
	gw.On("CheckStatus", mock.Anything, "gw-down").Return(nil, &status.GatewayError{Code: "TIMEOUT", Temporary: true})
	gw.On("CheckStatus", mock.Anything, "gw-wait").Return(&gateway.StatusResponse{Status: models.TransactionPending}, nil)
	gw.On("CheckStatus", mock.Anything, "gw-fail").Return(&gateway.StatusResponse{Status: models.TransactionFailed}, nil)

	job := NewSyncJob(env.reconcile, gw, 0, 2)
	report, err := job.Run(ctx)
	require.NoError(t, err)
	gw.AssertExpectations(t)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Failed)

	down, err := env.transactions.Get(ctx, "gw-down")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, down.Status)

	ok, err := env.bookings.ByTransaction(ctx, "gw-ok")
	require.NoError(t, err)
	require.Len(t, ok, 1)
	assert.Equal(t, models.BookingPaid, ok[0].Status)

	failed, err := env.bookings.ByTransaction(ctx, "gw-fail")
	require.NoError(t, err)
	assert.Empty(t, failed)

	// Settled transactions drop out of the next run.
	gw2 := &MockGateway{}
	gw2.On("CheckStatus", mock.Anything, "gw-down").Return(&gateway.StatusResponse{Status: models.TransactionSuccess}, nil)
	gw2.On("CheckStatus", mock.Anything, "gw-wait").Return(&gateway.StatusResponse{Status: models.TransactionPending}, nil)

	report, err = NewSyncJob(env.reconcile, gw2, 0, 2).Run(ctx)
	require.NoError(t, err)
	gw2.AssertExpectations(t)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Failed)
}

func TestSyncJob_RefusesOverlap(t *testing.T) {
	env := newTestEnv(t)
	job := NewSyncJob(env.reconcile, &MockGateway{}, 0, 1)

	job.running.Lock()
	_, err := job.Run(context.Background())
	job.running.Unlock()
	assert.True(t, errors.Is(err, ErrSyncRunning))

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}
