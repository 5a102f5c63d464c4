package notifier

import (
	"context"
	"strings"
)

// TextNotifier 是最小的文本推送接口，Telegram 与 Slack 都实现它。
type TextNotifier interface {
	Name() string
	SendText(ctx context.Context, text string) error
}

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelCritical:
		return "critical"
	default:
		return "info"
	}
}

// ParseLevel 未知值按 info 处理。
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return LevelWarn
	case "critical", "crit", "error":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// Alert 是一条运维告警。DedupKey 非空时，窗口期内相同 key 只发送一次。
type Alert struct {
	Level    Level
	Code     string
	Message  string
	Context  map[string]string
	DedupKey string
}
