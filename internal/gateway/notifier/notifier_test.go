package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recorder) Name() string { return "rec" }

func (r *recorder) SendText(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

func TestDispatcher(t *testing.T) {
	t.Run("level filter and dedup window", func(t *testing.T) {
		rec := &recorder{}
		d := NewDispatcher(LevelWarn, time.Minute, rec)
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		d.now = func() time.Time { return now }
		ctx := context.Background()

		require.NoError(t, d.Notify(ctx, Alert{Level: LevelInfo, Code: "IGNORED"}))
		require.NoError(t, d.Notify(ctx, Alert{Level: LevelWarn, Code: "RISK_BLOCKED", Message: "stop too tight", DedupKey: "risk:BTC"}))
		require.NoError(t, d.Notify(ctx, Alert{Level: LevelWarn, Code: "RISK_BLOCKED", DedupKey: "risk:BTC"}))
		assert.Len(t, rec.texts, 1)
		assert.Contains(t, rec.texts[0], "RISK_BLOCKED")
		assert.Contains(t, rec.texts[0], "stop too tight")

		now = now.Add(2 * time.Minute)
		require.NoError(t, d.Notify(ctx, Alert{Level: LevelCritical, Code: "RISK_BLOCKED", DedupKey: "risk:BTC"}))
		assert.Len(t, rec.texts, 2)
	})

	t.Run("channel error is returned", func(t *testing.T) {
		rec := &recorder{err: errors.New("offline")}
		d := NewDispatcher(LevelInfo, 0, rec)
		err := d.Notify(context.Background(), Alert{Level: LevelCritical, Code: "X"})
		assert.ErrorContains(t, err, "rec: offline")
	})

	t.Run("no channels logs only", func(t *testing.T) {
		d := NewDispatcher(LevelInfo, 0)
		assert.NoError(t, d.Notify(context.Background(), Alert{Level: LevelWarn, Code: "X"}))
	})
}

func TestFromAlert(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	text := FromAlert(Alert{
		Level:   LevelCritical,
		Code:    "QUORUM_FAILED",
		Message: "round1 quorum not met",
		Context: map[string]string{"symbol": "ETHUSDT", "cycle": "abc"},
	}, ts).RenderMarkdown()
	assert.Contains(t, text, "🚨 QUORUM_FAILED")
	assert.Contains(t, text, "- cycle: abc\n- symbol: ETHUSDT")
	assert.Contains(t, text, "2026-01-02 03:04:05")
}

func TestRenderMarkdown_Limits(t *testing.T) {
	msg := FromAlert(Alert{Level: LevelInfo, Message: strings.Repeat("价", maxMessageRunes+10)}, time.Time{})
	text := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(text, "ℹ️ INFO"))
	assert.True(t, strings.HasSuffix(text, "..."))
	assert.Equal(t, maxMessageRunes+3, len([]rune(text)))

	fenced := FromAlert(Alert{Code: "X", Context: map[string]string{"raw": "```boom```", "empty": " "}}, time.Time{})
	require.Len(t, fenced.Fields, 1)
	assert.Contains(t, fenced.RenderMarkdown(), "- raw: '''boom'''")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelCritical, ParseLevel("critical"))
	assert.Equal(t, LevelInfo, ParseLevel("???"))
	assert.Equal(t, "warn", LevelWarn.String())
}

func TestTelegram_SendText(t *testing.T) {
	retryStep = time.Millisecond
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["chat_id"])
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("tok", "42")
	tg.BaseURL = srv.URL
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	assert.Error(t, NewTelegram("", "").SendText(context.Background(), "x"))
}

func TestSlack_SendText(t *testing.T) {
	retryStep = time.Millisecond
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["text"] == "fail" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("invalid_token"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := NewSlack(srv.URL)
	require.NoError(t, s.SendText(context.Background(), "hi"))
	err := s.SendText(context.Background(), "fail")
	assert.ErrorContains(t, err, "status=403")
}
