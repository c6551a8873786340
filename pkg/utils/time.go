package utils

import (
	"math"
	"time"
)

// ToUnixMs 转为毫秒时间戳
func ToUnixMs(t time.Time) int64 {
	return t.UnixMilli()
}

// FromUnixMs 毫秒时间戳转为时间
func FromUnixMs(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// CeilSeconds 将时长向上取整为秒，非正数返回0
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
