// Package timeutil 提供本地接收时间戳。
// 事件的本地时间用于数据新鲜度判断和落盘记录，
// 必须在系统时间跳变（NTP 校正）时仍保持单调，否则新鲜度窗口会误判。
package timeutil

import "time"

// 进程启动时锚定一次墙钟，之后全部走单调时钟差值
var (
	anchor       = time.Now()
	anchorUnixNs = anchor.UnixNano()
)

// NowNano 当前 Unix 纳秒时间戳
// 实现为锚点墙钟加单调时钟流逝量，墙钟被调整也不会回退。
func NowNano() int64 {
	return anchorUnixNs + time.Since(anchor).Nanoseconds()
}
