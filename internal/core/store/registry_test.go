// Package store 注册表测试
package store

import (
	"testing"

	"go.uber.org/zap"

	"orderflow-analyzer/internal/core/book"
	"orderflow-analyzer/internal/core/model"
)

func newTestReconciler(venue model.Venue, symbol string) *book.Reconciler {
	return book.NewReconciler(venue, symbol, 50, nil, zap.NewNop())
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	rec := newTestReconciler(model.VenueBinance, "BTCUSDT")
	r.Register(Key{Venue: model.VenueBinance, Symbol: "BTCUSDT"}, rec)

	if got := r.Get(model.VenueBinance, "BTCUSDT"); got != rec {
		t.Fatalf("Get 未返回注册的调和器")
	}
	if got := r.Get(model.VenueOKX, "BTCUSDT"); got != nil {
		t.Fatalf("未注册条目应返回 nil: %v", got)
	}
}

func TestRegistry_SymbolsDeduplicated(t *testing.T) {
	r := NewRegistry()
	r.Register(Key{Venue: model.VenueBinance, Symbol: "BTCUSDT"}, newTestReconciler(model.VenueBinance, "BTCUSDT"))
	r.Register(Key{Venue: model.VenueOKX, Symbol: "BTCUSDT"}, newTestReconciler(model.VenueOKX, "BTCUSDT"))
	r.Register(Key{Venue: model.VenueBinance, Symbol: "ETHUSDT"}, newTestReconciler(model.VenueBinance, "ETHUSDT"))

	syms := r.Symbols()
	if len(syms) != 2 {
		t.Fatalf("Symbols=%v, want 2 个去重条目", syms)
	}
}

func TestRegistry_SnapshotsForOnlySynced(t *testing.T) {
	r := NewRegistry()
	synced := newTestReconciler(model.VenueBinance, "BTCUSDT")
	unsynced := newTestReconciler(model.VenueOKX, "BTCUSDT")
	r.Register(Key{Venue: model.VenueBinance, Symbol: "BTCUSDT"}, synced)
	r.Register(Key{Venue: model.VenueOKX, Symbol: "BTCUSDT"}, unsynced)

	snap := &model.BookEvent{
		Venue:    model.VenueBinance,
		Symbol:   "BTCUSDT",
		Kind:     model.KindSnapshot,
		FirstSeq: 100,
		LastSeq:  100,
		Bids:     []model.Level{{Price: 100, Qty: 5}},
		Asks:     []model.Level{{Price: 101, Qty: 4}},
	}
	if _, err := synced.Apply(snap); err != nil {
		t.Fatalf("应用快照失败: %v", err)
	}

	books := r.SnapshotsFor("BTCUSDT")
	if len(books) != 1 {
		t.Fatalf("SnapshotsFor 数量=%d, want 1", len(books))
	}
	if _, ok := books[model.VenueBinance]; !ok {
		t.Fatalf("应包含已同步交易所的快照")
	}
}
