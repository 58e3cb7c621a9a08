// Package backoff 退避计算器测试
package backoff

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBackoff_ExponentialGrowth(t *testing.T) {
	b := New(time.Second, 30*time.Second, 0)

	wants := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, want := range wants {
		if got := b.Next(); got != want {
			t.Fatalf("第 %d 次退避=%v, want %v", i+1, got, want)
		}
	}
	if b.Attempt() != len(wants) {
		t.Fatalf("Attempt=%d, want %d", b.Attempt(), len(wants))
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := New(time.Second, 30*time.Second, 0)

	b.Next()
	b.Next()
	b.Next()
	b.Reset()

	if b.Attempt() != 0 {
		t.Fatalf("Reset 后 Attempt=%d, want 0", b.Attempt())
	}
	if got := b.Next(); got != time.Second {
		t.Fatalf("Reset 后首次退避=%v, want 1s", got)
	}
}

// **Feature: orderflow-analyzer, Property 5: Bounded Reconnect Backoff**
// **Validates: Requirements 1.4**

func TestBackoff_Bounds_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("含抖动的退避始终落在 [base*(1-j), max*(1+j)] 内", prop.ForAll(
		func(attempts int) bool {
			b := NewDefault()
			lo := time.Duration(float64(time.Second) * 0.8)
			hi := time.Duration(float64(30*time.Second) * 1.2)
			for i := 0; i < attempts; i++ {
				d := b.Next()
				if d < lo || d > hi {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 80),
	))

	properties.Property("无抖动时退避单调不减", prop.ForAll(
		func(attempts int) bool {
			b := New(500*time.Millisecond, 20*time.Second, 0)
			prev := time.Duration(0)
			for i := 0; i < attempts; i++ {
				d := b.Next()
				if d < prev {
					return false
				}
				prev = d
			}
			return true
		},
		gen.IntRange(1, 80),
	))

	properties.TestingRun(t)
}
