package sink

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polofeed/models"
)

type execCall struct {
	sql  string
	args []any
}

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.id
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	calls      []execCall
	orders     map[string]int64
	executions map[string]int64
	execErr    error
	delay      time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]int64), executions: make(map[string]int64)}
}

func (f *fakeStore) Exec(ctx context.Context, sql string, args ...any) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.execErr != nil {
		return f.execErr
	}
	// trade_executions is keyed by trade_id and ignores conflicts.
	if sql == insertExecutionSQL {
		tradeID := args[0].(string)
		if _, ok := f.executions[tradeID]; !ok {
			f.executions[tradeID] = args[1].(int64)
		}
	}
	return nil
}

func (f *fakeStore) executionRows() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.executions))
	for k, v := range f.executions {
		out[k] = v
	}
	return out
}

func (f *fakeStore) QueryRow(ctx context.Context, sql string, args ...any) Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.orders[args[0].(string)]
	if !ok {
		return fakeRow{err: ErrNoRows}
	}
	return fakeRow{id: id}
}

func (f *fakeStore) execs() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.calls...)
}

func startSink(t *testing.T, store Store, opts Options) *Sink {
	t.Helper()
	s := New(store, opts)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start sink: %v", err)
	}
	return s
}

func TestTickerUpsertDefaultsNumerics(t *testing.T) {
	store := newFakeStore()
	s := startSink(t, store, Options{Workers: 2})

	ts := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	s.Enqueue(models.TickerUpdate{Symbol: "BTC_USDT", Price: decimal.NewFromInt(50000), MarketTime: ts})
	s.Stop()

	calls := store.execs()
	if len(calls) != 1 {
		t.Fatalf("expected one exec, got %d", len(calls))
	}
	if !strings.Contains(calls[0].sql, "ON CONFLICT (symbol, market_time)") {
		t.Fatalf("ticker write is not an upsert: %s", calls[0].sql)
	}
	if calls[0].args[0] != "BTC_USDT" || !calls[0].args[1].(time.Time).Equal(ts) {
		t.Fatalf("unexpected key args: %v", calls[0].args[:2])
	}
	if !strings.Contains(calls[0].sql, "(symbol, market_time, sequence, last_price,") {
		t.Fatalf("price must be stored as last_price: %s", calls[0].sql)
	}
	if !strings.Contains(calls[0].sql, "last_price = EXCLUDED.last_price") {
		t.Fatalf("conflict update must refresh last_price: %s", calls[0].sql)
	}
	if price := calls[0].args[3].(decimal.Decimal); !price.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("last_price = %s, want 50000", price)
	}
	if size := calls[0].args[4].(decimal.Decimal); !size.IsZero() {
		t.Fatalf("absent size should be zero, got %s", size)
	}
	if st := s.Stats(); st.WritesOK != 1 || st.Enqueued != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestOrderStatusNormalized(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"open", "OPEN"},
		{" done ", "DONE"},
		{"", models.OrderStatusUnknown},
	}
	for _, tt := range tests {
		if got := orderStatus(tt.in); got != tt.want {
			t.Errorf("orderStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	store := newFakeStore()
	s := startSink(t, store, Options{Workers: 1})
	s.Enqueue(models.OrderUpdate{OrderID: "o-1"})
	s.Stop()

	calls := store.execs()
	if len(calls) != 1 || calls[0].args[5] != models.OrderStatusUnknown {
		t.Fatalf("status not defaulted: %+v", calls)
	}
}

func TestExecutionRequiresKnownOrder(t *testing.T) {
	store := newFakeStore()
	store.orders["o-1"] = 42
	s := startSink(t, store, Options{Workers: 1})

	s.Enqueue(models.TradeExecution{TradeID: "t-1", OrderID: "o-1"})
	s.Enqueue(models.TradeExecution{TradeID: "t-2", OrderID: "missing"})
	s.Stop()

	calls := store.execs()
	if len(calls) != 1 {
		t.Fatalf("expected one insert, got %d", len(calls))
	}
	if !strings.Contains(calls[0].sql, "ON CONFLICT (trade_id) DO NOTHING") {
		t.Fatalf("execution insert must ignore conflicts: %s", calls[0].sql)
	}
	if calls[0].args[1] != int64(42) {
		t.Fatalf("order reference = %v", calls[0].args[1])
	}
	st := s.Stats()
	if st.ExecutionsDropped != 1 || st.WritesFailed != 0 || st.WritesOK != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestReplayedTradeIDAddsNoRow(t *testing.T) {
	store := newFakeStore()
	store.orders["o-1"] = 42
	s := startSink(t, store, Options{Workers: 1})

	s.Enqueue(models.TradeExecution{TradeID: "t-1", OrderID: "o-1", Price: decimal.NewFromInt(100)})
	s.Enqueue(models.TradeExecution{TradeID: "t-1", OrderID: "o-1", Price: decimal.NewFromInt(100)})
	s.Stop()

	rows := store.executionRows()
	if len(rows) != 1 || rows["t-1"] != 42 {
		t.Fatalf("expected exactly one execution row for t-1, got %v", rows)
	}
	if st := s.Stats(); st.WritesFailed != 0 || st.ExecutionsDropped != 0 {
		t.Fatalf("replay must be a silent no-op: %+v", st)
	}
}

func TestStoreErrorsAreSwallowed(t *testing.T) {
	store := newFakeStore()
	store.execErr = errors.New("connection reset")
	s := startSink(t, store, Options{Workers: 1})

	s.Enqueue(models.AccountUpdate{AccountID: "a", Currency: "USDT"})
	s.Enqueue(models.PositionUpdate{Symbol: "BTC_USDT", Side: "long"})
	s.Stop()

	if got := len(store.execs()); got != 2 {
		t.Fatalf("second write should still run after a failure, got %d execs", got)
	}
	if st := s.Stats(); st.WritesFailed != 2 {
		t.Fatalf("expected 2 failed writes, got %+v", st)
	}
}

func TestListenerOnlyFamiliesAreNotPersisted(t *testing.T) {
	store := newFakeStore()
	s := startSink(t, store, Options{Workers: 1})

	s.Enqueue(models.FundingUpdate{Symbol: "BTC_USDT"})
	s.Enqueue(models.OrderBookUpdate{Symbol: "BTC_USDT"})
	s.Enqueue(models.TradeTick{Symbol: "BTC_USDT"})
	s.Stop()

	if got := len(store.execs()); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
}

func TestSameKeyWritesKeepReceiptOrder(t *testing.T) {
	store := newFakeStore()
	store.delay = time.Millisecond
	s := startSink(t, store, Options{Workers: 4})

	statuses := []string{"new", "open", "match", "done"}
	for _, st := range statuses {
		s.Enqueue(models.OrderUpdate{OrderID: "o-7", Status: st})
		s.Enqueue(models.OrderUpdate{OrderID: "other-" + st, Status: "open"})
	}
	s.Stop()

	var seen []string
	for _, c := range store.execs() {
		if c.args[0] == "o-7" {
			seen = append(seen, c.args[5].(string))
		}
	}
	want := []string{"NEW", "OPEN", "MATCH", "DONE"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Fatalf("order o-7 writes = %v, want %v", seen, want)
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	store := newFakeStore()
	store.delay = 50 * time.Millisecond
	s := startSink(t, store, Options{Workers: 1, QueueSize: 1})

	start := time.Now()
	for i := 0; i < 10; i++ {
		s.Enqueue(models.TickerUpdate{Symbol: "BTC_USDT", Sequence: int64(i)})
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("enqueue waited on writes: %s", elapsed)
	}
	s.Stop()

	if st := s.Stats(); st.QueueOverflows == 0 {
		t.Fatalf("expected overflows with a full queue, got %+v", st)
	}
}

func TestEnqueueAfterStopIsIgnored(t *testing.T) {
	store := newFakeStore()
	s := startSink(t, store, Options{Workers: 1})
	s.Stop()
	s.Enqueue(models.TickerUpdate{Symbol: "BTC_USDT"})
	s.Stop()

	if got := len(store.execs()); got != 0 {
		t.Fatalf("expected no writes after stop, got %d", got)
	}
}

func TestEnsureSchemaRunsEveryStatement(t *testing.T) {
	store := newFakeStore()
	if err := EnsureSchema(context.Background(), store); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	calls := store.execs()
	if len(calls) != len(schemaStatements) {
		t.Fatalf("expected %d statements, got %d", len(schemaStatements), len(calls))
	}
	for _, table := range []string{"market_ticks", "account_balances", "positions", "orders", "trade_executions"} {
		found := false
		for _, c := range calls {
			if strings.Contains(c.sql, "CREATE TABLE IF NOT EXISTS "+table+" ") {
				found = true
			}
		}
		if !found {
			t.Errorf("table %s not created", table)
		}
	}

	store.execErr = errors.New("permission denied")
	if err := EnsureSchema(context.Background(), store); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestShardForIsStable(t *testing.T) {
	if shardFor("BTC_USDT", 8) != shardFor("BTC_USDT", 8) {
		t.Fatal("shard changed between calls")
	}
	if shardFor("anything", 1) != 0 {
		t.Fatal("single worker must own every key")
	}
}
