package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/iGETsense/Devil-POOl-sub000/internal/status"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Phone  string `json:"phone"`
}

func (r *testRecord) IndexFields() map[string]string {
	return map[string]string{"status": r.Status, "phone": r.Phone}
}

func setupRedisStore() (*RedisStore, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewRedisStore(db), mock
}

func TestRedisStore_Get_Found(t *testing.T) {
	store, mock := setupRedisStore()
	ctx := context.Background()

	rec := testRecord{ID: "b1", Status: "PAID", Phone: "677000000"}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectGet("booking:b1").SetVal(string(data))

	var got testRecord
	err = store.Get(ctx, Bookings, "b1", &got)

	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Get_Missing(t *testing.T) {
	store, mock := setupRedisStore()
	ctx := context.Background()

	mock.ExpectGet("transaction:tx-404").RedisNil()

	var got testRecord
	err := store.Get(ctx, Transactions, "tx-404", &got)

	assert.ErrorIs(t, err, status.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Create_AlreadyExists(t *testing.T) {
	store, mock := setupRedisStore()
	ctx := context.Background()

	rec := &testRecord{ID: "b1", Status: "PENDING"}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectSetNX("booking:b1", string(data), 0).SetVal(false)

	created, err := store.Create(ctx, Bookings, "b1", rec)

	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Query(t *testing.T) {
	store, mock := setupRedisStore()
	ctx := context.Background()

	mock.ExpectSMembers("idx:booking:phone:677000000").SetVal([]string{"b2", "b1"})

	ids, err := store.Query(ctx, Bookings, "phone", "677000000")

	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Increment(t *testing.T) {
	store, mock := setupRedisStore()
	ctx := context.Background()

	mock.ExpectIncrBy("stats:totalRevenue", 5000).SetVal(15000)

	total, err := store.Increment(ctx, "stats:totalRevenue", 5000)

	require.NoError(t, err)
	assert.Equal(t, int64(15000), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Flag(t *testing.T) {
	store, mock := setupRedisStore()
	ctx := context.Background()

	mock.ExpectSetNX("flag:settled:b1", 1, 0).SetVal(true)
	mock.ExpectSetNX("flag:settled:b1", 1, 0).SetVal(false)

	first, err := store.Flag(ctx, "settled:b1")
	require.NoError(t, err)
	second, err := store.Flag(ctx, "settled:b1")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Counters(t *testing.T) {
	store, mock := setupRedisStore()
	ctx := context.Background()

	mock.ExpectMGet("stats:paidCount", "stats:pendingCount").SetVal([]any{"3", nil})

	got, err := store.Counters(ctx, []string{"stats:paidCount", "stats:pendingCount"})

	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"stats:paidCount": 3, "stats:pendingCount": 0}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexChanges(t *testing.T) {
	tests := []struct {
		name   string
		before map[string]string
		after  map[string]string
		want   []indexChange
	}{
		{
			name:  "create indexes non-empty fields only",
			after: map[string]string{"status": "PENDING", "transactionId": ""},
			want:  []indexChange{{key: "idx:booking:status:PENDING"}},
		},
		{
			name:   "status move drops old membership",
			before: map[string]string{"status": "PENDING", "phone": "1"},
			after:  map[string]string{"status": "PAID", "phone": "1"},
			want: []indexChange{
				{key: "idx:booking:status:PENDING", remove: true},
				{key: "idx:booking:status:PAID"},
			},
		},
		{
			name:   "unchanged record has no changes",
			before: map[string]string{"status": "PAID"},
			after:  map[string]string{"status": "PAID"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, indexChanges(Bookings, tt.before, tt.after))
		})
	}
}
