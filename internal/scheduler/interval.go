package scheduler

import (
	"strconv"
	"strings"
	"time"
)

var unitDurations = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// 交易所 K 线支持的周期（USDT 永续）。
var klineIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {},
}

// ParseIntervalDuration 把 "15m" / "4h" / "1d" / "1w" 这类周期写法转成 Duration，非法输入返回 false。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if len(interval) < 2 {
		return 0, false
	}
	unit, ok := unitDurations[interval[len(interval)-1]]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// IsKlineInterval 判断 interval 能否直接作为 K 线周期请求。
func IsKlineInterval(interval string) bool {
	_, ok := klineIntervals[strings.ToLower(strings.TrimSpace(interval))]
	return ok
}
