// Package jsonl 实现分析结果的异步 JSONL 落盘。
// JSON 编码在调用方完成，后台 goroutine 只负责文件 I/O，
// 并按固定周期 flush，避免热路径被磁盘拖慢。
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// flushInterval 周期性 flush 间隔
const flushInterval = 2 * time.Second

// Writer 异步 JSONL 写入器
type Writer struct {
	// path 输出文件路径
	path string
	// records 待写入记录队列（已编码的 JSON 行）
	records chan []byte
	// dropped 因队列满被丢弃的记录数
	dropped int64
	// closed 是否已关闭
	closed int32

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWriter 创建 JSONL 写入器并启动后台写入循环
// 参数 path: 输出文件路径（目录不存在时自动创建）
// 参数 bufferSize: 队列容量
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path:    path,
		records: make(chan []byte, bufferSize),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop(f)
	return w, nil
}

// Write 编码并投递一条记录
// 队列满时丢弃该条记录并计数，不阻塞调用方。
func (w *Writer) Write(v any) error {
	if atomic.LoadInt32(&w.closed) == 1 {
		return fmt.Errorf("writer 已关闭: %s", w.path)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("编码 JSONL 记录失败: %w", err)
	}

	select {
	case w.records <- b:
		return nil
	default:
		atomic.AddInt64(&w.dropped, 1)
		return nil
	}
}

// Dropped 获取因队列满被丢弃的记录数
func (w *Writer) Dropped() int64 {
	return atomic.LoadInt64(&w.dropped)
}

// Close 关闭写入器，排空队列并 flush
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		atomic.StoreInt32(&w.closed, 1)
		close(w.done)
	})
	w.wg.Wait()
	return nil
}

func (w *Writer) loop(f *os.File) {
	defer w.wg.Done()
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)
	defer bw.Flush()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case b := <-w.records:
			w.writeLine(bw, b)
		case <-ticker.C:
			_ = bw.Flush()
		case <-w.done:
			// 排空剩余记录后退出
			for {
				select {
				case b := <-w.records:
					w.writeLine(bw, b)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeLine(bw *bufio.Writer, b []byte) {
	if _, err := bw.Write(b); err != nil {
		return
	}
	_ = bw.WriteByte('\n')
}
