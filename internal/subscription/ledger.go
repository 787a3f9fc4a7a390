package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"subgate/pkg/problems"
)

// Ledger orders deliveries per customer by billing event creation time.
// Admit reports whether an event created at created may still be applied;
// an equal timestamp is admitted again so redelivery stays idempotent.
// Commit records the event once its directory mutation succeeded. The mark
// only moves forward.
type Ledger interface {
	Admit(ctx context.Context, customerID string, created time.Time) (bool, error)
	Commit(ctx context.Context, customerID string, created time.Time) error
}

// NopLedger admits everything: the last delivery to arrive wins.
type NopLedger struct{}

func (NopLedger) Admit(context.Context, string, time.Time) (bool, error) { return true, nil }
func (NopLedger) Commit(context.Context, string, time.Time) error        { return nil }

const defaultLedgerTTL = 90 * 24 * time.Hour

type mark struct {
	ts      int64
	expires time.Time
}

// MemoryLedger keeps the marks in process memory, so it only orders
// deliveries reaching a single instance. Marks expire after the same TTL the
// Redis ledger uses.
type MemoryLedger struct {
	mu        sync.Mutex
	last      map[string]mark
	ttl       time.Duration
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{last: map[string]mark{}, ttl: defaultLedgerTTL, now: time.Now}
}

func (m *MemoryLedger) Admit(_ context.Context, customerID string, created time.Time) (bool, error) {
	if created.IsZero() {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.last[customerID]
	if !ok || !m.now().Before(cur.expires) {
		return true, nil
	}
	return cur.ts <= created.Unix(), nil
}

func (m *MemoryLedger) Commit(_ context.Context, customerID string, created time.Time) error {
	if created.IsZero() {
		return nil
	}
	ts := created.Unix()
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweep(now)
	if cur, ok := m.last[customerID]; ok && now.Before(cur.expires) && cur.ts > ts {
		ts = cur.ts
	}
	m.last[customerID] = mark{ts: ts, expires: now.Add(m.ttl)}
	return nil
}

// sweep drops expired marks at most once an hour. Callers hold mu.
func (m *MemoryLedger) sweep(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	for id, mk := range m.last {
		if !now.Before(mk.expires) {
			delete(m.last, id)
		}
	}
	m.nextSweep = now.Add(time.Hour)
}

// Len reports how many customers currently hold a mark.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}

// commitScript stores the larger of the current and the new mark.
var commitScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local v = ARGV[1]
if cur and tonumber(cur) > tonumber(v) then
  v = cur
end
redis.call('SET', KEYS[1], v, 'EX', ARGV[2])
return 1
`)

// RedisLedger shares the marks between webhook instances.
type RedisLedger struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(rdb redis.Cmdable) *RedisLedger {
	return &RedisLedger{rdb: rdb, prefix: "subgate:sub:last:", ttl: defaultLedgerTTL}
}

func (l *RedisLedger) Admit(ctx context.Context, customerID string, created time.Time) (bool, error) {
	if created.IsZero() {
		return true, nil
	}
	cur, err := l.rdb.Get(ctx, l.prefix+customerID).Int64()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: event ledger: %v", problems.ErrUpstream, err)
	}
	return cur <= created.Unix(), nil
}

func (l *RedisLedger) Commit(ctx context.Context, customerID string, created time.Time) error {
	if created.IsZero() {
		return nil
	}
	err := commitScript.Run(ctx, l.rdb, []string{l.prefix + customerID}, created.Unix(), int64(l.ttl/time.Second)).Err()
	if err != nil {
		return fmt.Errorf("%w: event ledger: %v", problems.ErrUpstream, err)
	}
	return nil
}
