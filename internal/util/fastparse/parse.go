// Package fastparse 解析交易所消息中以字符串承载的数字字段。
// 各交易所的价格、数量和序列号都以字符串下发，
// 解析集中在这里，热路径统一走 strconv，不经过 fmt。
package fastparse

import "strconv"

// ParseFloat 解析价格或数量字符串，如 "50000.5"
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// ParseInt 解析序列号或时间戳字符串，如 "1700000000000"
func ParseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
