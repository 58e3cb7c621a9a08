// Package book 订单簿调和器属性测试
package book

import (
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"orderflow-analyzer/internal/core/model"
)

// **Feature: orderflow-analyzer, Property 1: Book Invariants Under Random Deltas**
// **Validates: Requirements 2.1, 2.4**

func TestReconciler_Invariants_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("连续随机增量后买卖盘不交叉且有序", prop.ForAll(
		func(ops []int) bool {
			r := NewReconciler(model.VenueBinance, "BTCUSDT", 50, nil, zap.NewNop())

			_, err := r.Apply(&model.BookEvent{
				Venue:    model.VenueBinance,
				Symbol:   "BTCUSDT",
				Kind:     model.KindSnapshot,
				Bids:     []model.Level{{Price: 10000, Qty: 1}},
				Asks:     []model.Level{{Price: 10001, Qty: 1}},
				FirstSeq: 1,
				LastSeq:  1,
			})
			if err != nil {
				return false
			}

			seq := int64(1)
			for _, op := range ops {
				seq++
				// op 编码为价格偏移与数量（0 表示删除）
				priceOff := float64(op%40) * 0.5
				qty := float64(op % 7)

				ev := &model.BookEvent{
					Venue:    model.VenueBinance,
					Symbol:   "BTCUSDT",
					Kind:     model.KindDelta,
					FirstSeq: seq,
					LastSeq:  seq,
				}
				if op%2 == 0 {
					ev.Bids = []model.Level{{Price: 10000 - priceOff, Qty: qty}}
				} else {
					ev.Asks = []model.Level{{Price: 10001 + priceOff, Qty: qty}}
				}
				if _, err := r.Apply(ev); err != nil {
					return false
				}
			}

			book := r.Snapshot()
			if book == nil {
				return false
			}
			if !sort.SliceIsSorted(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price }) {
				return false
			}
			if !sort.SliceIsSorted(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price }) {
				return false
			}
			for _, lv := range book.Bids {
				if lv.Qty <= 0 {
					return false
				}
			}
			for _, lv := range book.Asks {
				if lv.Qty <= 0 {
					return false
				}
			}
			if len(book.Bids) > 0 && len(book.Asks) > 0 && book.Bids[0].Price >= book.Asks[0].Price {
				return false
			}
			return book.LastSeq == seq
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

// **Feature: orderflow-analyzer, Property 2: Sequence Monotonicity**
// **Validates: Requirements 2.2, 2.3**

func TestReconciler_SequenceMonotonic_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("过期与缺口增量从不推进 LastSeq", prop.ForAll(
		func(offset int64) bool {
			r := NewReconciler(model.VenueBybit, "ETHUSDT", 50, nil, zap.NewNop())

			if _, err := r.Apply(&model.BookEvent{
				Venue:    model.VenueBybit,
				Symbol:   "ETHUSDT",
				Kind:     model.KindSnapshot,
				Bids:     []model.Level{{Price: 2000, Qty: 1}},
				Asks:     []model.Level{{Price: 2001, Qty: 1}},
				FirstSeq: 100,
				LastSeq:  100,
			}); err != nil {
				return false
			}

			ev := &model.BookEvent{
				Venue:  model.VenueBybit,
				Symbol: "ETHUSDT",
				Kind:   model.KindDelta,
				Bids:   []model.Level{{Price: 2000, Qty: 5}},
			}
			if offset <= 0 {
				// 过期: lastSeq <= 100
				ev.FirstSeq = 100 + offset
				ev.LastSeq = 100 + offset
				res, err := r.Apply(ev)
				if err != nil || res != ResultStale {
					return false
				}
			} else {
				// 缺口: firstSeq > 101
				ev.FirstSeq = 101 + offset
				ev.LastSeq = 102 + offset
				res, err := r.Apply(ev)
				if err != nil || res != ResultGap {
					return false
				}
			}
			return r.Snapshot().LastSeq == 100
		},
		gen.Int64Range(-50, 50),
	))

	properties.TestingRun(t)
}
