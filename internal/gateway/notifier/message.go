package notifier

import (
	"sort"
	"strings"
	"time"

	"quorum/internal/pkg/text"
)

// Telegram 单条上限 4096，留出余量。
const maxMessageRunes = 3800

var levelIcons = map[Level]string{
	LevelInfo:     "ℹ️",
	LevelWarn:     "⚠️",
	LevelCritical: "🚨",
}

// Message 是一条告警渲染前的形态：标题、上下文键值对、正文与时间。
type Message struct {
	Icon      string
	Title     string
	Body      string
	Fields    [][2]string
	Timestamp time.Time
}

// FromAlert 把告警转换为消息，Context 按 key 排序。
func FromAlert(a Alert, ts time.Time) Message {
	title := strings.TrimSpace(a.Code)
	if title == "" {
		title = strings.ToUpper(a.Level.String())
	}
	keys := make([]string, 0, len(a.Context))
	for k := range a.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([][2]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.TrimSpace(a.Context[k]); v != "" {
			fields = append(fields, [2]string{k, v})
		}
	}
	return Message{
		Icon:      levelIcons[a.Level],
		Title:     title,
		Body:      strings.TrimSpace(a.Message),
		Fields:    fields,
		Timestamp: ts,
	}
}

// RenderMarkdown 输出 Markdown 文本：上下文放在代码块里，超长按 rune 截断。
func (m Message) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	if len(m.Fields) > 0 {
		b.WriteString("```\n")
		for _, f := range m.Fields {
			b.WriteString("- " + escapeFence(f[0]) + ": " + escapeFence(f[1]) + "\n")
		}
		b.WriteString("```\n\n")
	}
	if m.Body != "" {
		b.WriteString(escapeFence(m.Body))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	return text.Truncate(strings.TrimSpace(b.String()), maxMessageRunes)
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
