package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionService_OpenRejectedPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.transactions.Open(ctx, "BK1", 5000, nil, "bad", "MTN")
	var gwErr *status.GatewayError
	require.True(t, errors.As(err, &gwErr), "got %v", err)
	assert.Equal(t, "invalid-payer", gwErr.Code)

	pending, err := env.transactions.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = env.transactions.Open(ctx, "", 5000, nil, testPhone, "MTN")
	var verr *status.ValidationError
	assert.True(t, errors.As(err, &verr))
	_, err = env.transactions.Open(ctx, "BK1", 0, nil, testPhone, "MTN")
	assert.True(t, errors.As(err, &verr))
}

func TestTransactionService_OpenUnstoredIsAuditLogged(t *testing.T) {
	faulty := &faultyStore{family: ledger.Transactions, failCreates: 1}
	env := newTestEnvOn(t, func(s ledger.Store) ledger.Store {
		faulty.Store = s
		return faulty
	})

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, err := env.transactions.Open(context.Background(), "BK1", 5000, nil, testPhone, "MTN")
	require.ErrorIs(t, err, errStoreBlip)

	var entry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]any
		require.NoError(t, json.Unmarshal(line, &e))
		if e["audit"] == true {
			entry = e
		}
	}
	require.NotNil(t, entry, "no audit line in %s", buf.String())
	assert.Equal(t, "WARN", entry["level"])
	assert.NotEmpty(t, entry["providerTxId"])
	assert.Equal(t, "BK1", entry["bookingId"])
	assert.EqualValues(t, 5000, entry["amount"])

	pending, err := env.transactions.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTransactionService_UpdateStatusGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.transactions.Open(ctx, "BK1", 5000, nil, testPhone, "MTN")
	require.NoError(t, err)

	tx, changed, err := env.transactions.UpdateStatus(ctx, id, models.TransactionPending, []byte(`{"poll":1}`))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.JSONEq(t, `{"poll":1}`, string(tx.RawResponse))

	tx, changed, err = env.transactions.UpdateStatus(ctx, id, models.TransactionSuccess, []byte(`{"poll":2}`))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.TransactionSuccess, tx.Status)

	for _, next := range []models.TransactionStatus{models.TransactionSuccess, models.TransactionFailed, models.TransactionPending} {
		tx, changed, err = env.transactions.UpdateStatus(ctx, id, next, []byte(`{"poll":3}`))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, models.TransactionSuccess, tx.Status)
		assert.JSONEq(t, `{"poll":2}`, string(tx.RawResponse))
	}

	_, _, err = env.transactions.UpdateStatus(ctx, id, "MAYBE", nil)
	assert.Error(t, err)
	_, _, err = env.transactions.UpdateStatus(ctx, "missing", models.TransactionSuccess, nil)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestTransactionService_UnresolvedAndAttach(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.transactions.Open(ctx, "BK1", 5000, nil, testPhone, "MTN")
	require.NoError(t, err)

	require.NoError(t, env.transactions.MarkUnresolved(ctx, id, "first"))
	first, err := env.transactions.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, first.UnresolvedAt)

	require.NoError(t, env.transactions.MarkUnresolved(ctx, id, "second"))
	second, err := env.transactions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "second", second.UnresolvedReason)
	assert.True(t, first.UnresolvedAt.Equal(*second.UnresolvedAt))

	list, err := env.transactions.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, env.transactions.AttachBookings(ctx, id, []string{"BK1", "BK1-2"}))
	require.NoError(t, env.transactions.AttachBookings(ctx, id, []string{"BK1-2", "BK1-3"}))
	tx, err := env.transactions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"BK1", "BK1-2", "BK1-3"}, tx.BookingIDs)
}
