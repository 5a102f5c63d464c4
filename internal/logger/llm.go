package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

// SetLLMWriter 设置模型请求/响应的独立日志输出，nil 表示关闭。
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

// EnableLLMPayloadDump 开启后请求日志附带行情快照 JSON。
func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

// LLMCall 标识一次模型调用，同一周期同一轮次的请求与响应共用。
type LLMCall struct {
	CycleID  string
	Round    string
	Provider string
	Symbol   string
}

func (c LLMCall) header(kind string) string {
	return fmt.Sprintf("[LLM][%s][%s][%s][%s][%s]", kind, c.Round, c.Provider, c.Symbol, c.CycleID)
}

func llmState() (*log.Logger, bool) {
	llmMu.Lock()
	defer llmMu.Unlock()
	return llmLog, llmDumpPayload
}

// LogLLMRequest 记录提示词；payload 只在开启 dump 时才会被调用。
func LogLLMRequest(call LLMCall, system, user string, payload func() string) {
	l, dump := llmState()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(call.header("request"))
	b.WriteString("\n")
	writeSection(&b, "SYSTEM", system)
	writeSection(&b, "USER", user)
	if dump && payload != nil {
		writeSection(&b, "PAYLOAD", payload())
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

func LogLLMResponse(call LLMCall, raw string, tokens int, elapsed time.Duration) {
	l, _ := llmState()
	if l == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s tokens=%d elapsed=%s\n", call.header("response"), tokens, elapsed.Round(time.Millisecond))
	writeSection(&b, "RAW", raw)
	b.WriteString("=====\n")
	l.Print(b.String())
}

func writeSection(b *strings.Builder, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	b.WriteString("--- " + title + " ---\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
}
