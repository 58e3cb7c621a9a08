// Package history 提供固定容量的环形缓冲区。
// 市场数据流永不结束，所有时间序列累积必须有界；
// 达到容量后写入自动淘汰最旧元素，杜绝无界内存增长。
package history

import "sync"

// Ring 固定容量环形缓冲区
// Push 与 Snapshot 可跨 goroutine 并发调用；临界区只做切片读写，
// 不会阻塞写方热路径。
type Ring[T any] struct {
	// capacity 最大元素数
	capacity int
	// buf 底层存储
	buf []T
	// pos 下一个写入位置（仅在写满后使用）
	pos int
	// full 是否已写满
	full bool
	// total 累计写入总数（含被淘汰的）
	total int64

	mu sync.Mutex
}

// NewRing 创建环形缓冲区
// 参数 capacity: 最大元素数，非正值视为 1
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		capacity: capacity,
		buf:      make([]T, 0, capacity),
	}
}

// Push 写入一个元素
// 达到容量后覆盖最旧元素。
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if !r.full {
		r.buf = append(r.buf, v)
		if len(r.buf) == r.capacity {
			r.full = true
			r.pos = 0
		}
		return
	}

	r.buf[r.pos] = v
	r.pos++
	if r.pos >= r.capacity {
		r.pos = 0
	}
}

// Snapshot 返回当前内容的拷贝，从最旧到最新排列
// 返回的切片归调用方所有，修改不影响缓冲区。
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, len(r.buf))
	if !r.full {
		out = append(out, r.buf...)
		return out
	}

	out = append(out, r.buf[r.pos:]...)
	out = append(out, r.buf[:r.pos]...)
	return out
}

// Len 当前元素数
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Cap 最大容量
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Total 累计写入总数（含已淘汰元素）
func (r *Ring[T]) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Last 最新写入的元素
// 返回: 元素和是否存在
func (r *Ring[T]) Last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if len(r.buf) == 0 {
		return zero, false
	}
	if !r.full {
		return r.buf[len(r.buf)-1], true
	}
	idx := r.pos - 1
	if idx < 0 {
		idx = r.capacity - 1
	}
	return r.buf[idx], true
}
