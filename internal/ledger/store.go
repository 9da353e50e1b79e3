// Package ledger is the hierarchical key-value persistence for the booking,
// transaction and stats record families.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"
)

type Family string

const (
	Bookings     Family = "booking"
	Transactions Family = "transaction"
	Stats        Family = "stats"
)

// Record is any value the ledger can persist. IndexFields returns the
// secondary lookups (field -> value) kept for Query; empty values are not indexed.
type Record interface {
	IndexFields() map[string]string
}

var (
	// ErrSkip may be returned by an Update callback to leave the record untouched.
	ErrSkip = errors.New("ledger: no change")

	// ErrConflict is returned when an optimistic update keeps losing races.
	ErrConflict = errors.New("ledger: too much contention")
)

// Store is the persistence contract the core needs. Update is a per-key
// compare-and-set: fn runs against the freshly loaded record and the write
// only lands if nobody else wrote the key in between. fn must not call back
// into the store.
type Store interface {
	Get(ctx context.Context, family Family, id string, dst Record) error
	Set(ctx context.Context, family Family, id string, rec Record) error
	Create(ctx context.Context, family Family, id string, rec Record) (bool, error)
	Update(ctx context.Context, family Family, id string, dst Record, fn func() error) error
	Query(ctx context.Context, family Family, field, equals string) ([]string, error)
	List(ctx context.Context, family Family) ([]string, error)

	Increment(ctx context.Context, key string, delta int64) (int64, error)
	IncrementMany(ctx context.Context, deltas map[string]int64) error
	Counters(ctx context.Context, keys []string) (map[string]int64, error)
	SetCounters(ctx context.Context, values map[string]int64) error

	// Flag sets a marker once and reports whether this call set it.
	Flag(ctx context.Context, key string) (bool, error)

	// Lock blocks until the key is held or ctx is done. The lease expires
	// after ttl even if release is never called.
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

const (
	maxUpdateRetries = 16
	lockPollInterval = 20 * time.Millisecond
)

func recordKey(family Family, id string) string {
	return fmt.Sprintf("%s:%s", family, id)
}

func familyKey(family Family) string {
	return fmt.Sprintf("all:%s", family)
}

func indexKey(family Family, field, value string) string {
	return fmt.Sprintf("idx:%s:%s:%s", family, field, value)
}

func flagKey(key string) string {
	return "flag:" + key
}

func lockKey(key string) string {
	return "lock:" + key
}

type indexChange struct {
	key    string
	remove bool
}

// indexChanges returns the index set memberships to drop and add when a
// record moves from before to after, in a stable order.
func indexChanges(family Family, before, after map[string]string) []indexChange {
	fields := make([]string, 0, len(after)+len(before))
	seen := map[string]bool{}
	for f := range before {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	for f := range after {
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	var changes []indexChange
	for _, f := range fields {
		old, cur := before[f], after[f]
		if old == cur {
			continue
		}
		if old != "" {
			changes = append(changes, indexChange{key: indexKey(family, f, old), remove: true})
		}
		if cur != "" {
			changes = append(changes, indexChange{key: indexKey(family, f, cur)})
		}
	}
	return changes
}

// reset zeroes the value dst points to so a retried decode never keeps
// fields from an earlier attempt.
func reset(dst Record) {
	v := reflect.ValueOf(dst)
	if v.Kind() == reflect.Ptr && !v.IsNil() {
		v.Elem().Set(reflect.Zero(v.Elem().Type()))
	}
}
