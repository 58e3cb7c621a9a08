// Package history 环形缓冲区测试
package history

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRing_Basic(t *testing.T) {
	r := NewRing[int](3)

	if _, ok := r.Last(); ok {
		t.Fatalf("空缓冲区 Last 应返回 false")
	}

	r.Push(1)
	r.Push(2)
	if got := r.Snapshot(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Snapshot=%v, want [1 2]", got)
	}
	if last, ok := r.Last(); !ok || last != 2 {
		t.Fatalf("Last=%d, want 2", last)
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 4; i++ {
		r.Push(i)
	}

	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("Len=%d, want 3", len(got))
	}
	if got[0] != 2 || got[1] != 3 || got[2] != 4 {
		t.Fatalf("Snapshot=%v, want [2 3 4]", got)
	}
	if r.Total() != 4 {
		t.Fatalf("Total=%d, want 4", r.Total())
	}
	if last, ok := r.Last(); !ok || last != 4 {
		t.Fatalf("Last=%d, want 4", last)
	}
}

func TestRing_NonPositiveCapacity(t *testing.T) {
	r := NewRing[string](0)
	if r.Cap() != 1 {
		t.Fatalf("Cap=%d, want 1", r.Cap())
	}
	r.Push("a")
	r.Push("b")
	if got := r.Snapshot(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("Snapshot=%v, want [b]", got)
	}
}

// **Feature: orderflow-analyzer, Property 3: Bounded History**
// **Validates: Requirements 7.1, 7.2**

func TestRing_Bounded_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("任意写入序列后元素数不超过容量且保留最新", prop.ForAll(
		func(capacity int, n int) bool {
			r := NewRing[int](capacity)
			for i := 0; i < n; i++ {
				r.Push(i)
			}

			got := r.Snapshot()
			if len(got) > capacity {
				return false
			}
			if r.Total() != int64(n) {
				return false
			}
			if n == 0 {
				return len(got) == 0
			}

			// 内容必须是最后 min(n, capacity) 个写入，顺序从旧到新
			want := n
			if want > capacity {
				want = capacity
			}
			if len(got) != want {
				return false
			}
			for i, v := range got {
				if v != n-want+i {
					return false
				}
			}
			last, ok := r.Last()
			return ok && last == n-1
		},
		gen.IntRange(1, 64),
		gen.IntRange(0, 300),
	))

	properties.TestingRun(t)
}
