package prompt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/decision"
)

func sampleData() Data {
	return Data{
		Snapshot: decision.MarketSnapshot{
			Symbol:            "BTCUSDT",
			Price:             65000.5,
			ATR:               820,
			Equity:            10000,
			FreeCollateral:    8000,
			MarginUtilization: 0.2,
			Position:          &decision.PositionState{Side: decision.ActionLong, Qty: 0.01, EntryPrice: 64000},
			Timestamp:         time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC),
		},
	}
}

func TestRegistry_BuiltIn(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.Version())

	sys, user, err := r.Render(RoundIndependent, sampleData())
	require.NoError(t, err)
	assert.Contains(t, sys, "LONG, SHORT, HOLD or CLOSE")
	assert.Contains(t, user, "Instrument: BTCUSDT")
	assert.Contains(t, user, "Mark price: 65000.5")
	assert.Contains(t, user, "Margin utilization: 20.00%")
	assert.Contains(t, user, "Open position: LONG 0.01 @ 64000")

	data := sampleData()
	data.Peers = []Peer{
		{Name: "alpha", Self: true, Decision: decision.AiDecision{Action: decision.ActionLong, Confidence: 70, Reason: "breakout"}},
		{Name: "beta", Decision: decision.AiDecision{Action: decision.ActionHold, Confidence: 55}},
	}
	_, user, err = r.Render(RoundReconsideration, data)
	require.NoError(t, err)
	assert.Contains(t, user, "- alpha (you): LONG confidence=70 reason=\"breakout\"")
	assert.Contains(t, user, "- beta: HOLD confidence=55")

	_, _, err = r.Render("round3", data)
	assert.Error(t, err)
}

func TestRegistry_MissingFileFallsBack(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	_, user, err := r.Render(RoundIndependent, sampleData())
	require.NoError(t, err)
	assert.Contains(t, user, "BTCUSDT")
}

func TestRegistry_ValidateDecision(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)

	assert.NoError(t, r.ValidateDecision(`{"action":"LONG","confidence":80,"suggested_stop_loss":null}`))
	assert.NoError(t, r.ValidateDecision(`{"action":"hold","confidence":"72"}`))
	assert.Error(t, r.ValidateDecision(`{"confidence":80}`))
	assert.Error(t, r.ValidateDecision(`{"action":"LONG","confidence":180}`))
	assert.Error(t, r.ValidateDecision(`{"action":"CLOSE","confidence":10,"qty_delta_factor":-2}`))
	assert.Error(t, r.ValidateDecision(`not json`))
}

func TestRegistry_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := `templates:
  round1:
    user: "R1 {{.Snapshot.Symbol}}"
decision_schema:
  type: object
  required: [action]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := NewRegistry(path)
	require.NoError(t, err)
	sys, user, err := r.Render(RoundIndependent, sampleData())
	require.NoError(t, err)
	assert.Equal(t, "R1 BTCUSDT", user)
	assert.Contains(t, sys, "panel")
	// confidence 不再必填
	assert.NoError(t, r.ValidateDecision(`{"action":"LONG"}`))
}

func TestRegistry_RejectsBadFile(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("templates: {}\nextra: 1\n"), 0o644))
	_, err := NewRegistry(unknown)
	assert.Error(t, err)

	badTpl := filepath.Join(dir, "tpl.yaml")
	require.NoError(t, os.WriteFile(badTpl, []byte("templates:\n  round2:\n    user: \"{{.Snapshot\"\n"), 0o644))
	_, err = NewRegistry(badTpl)
	assert.Error(t, err)

	badRound := filepath.Join(dir, "round.yaml")
	require.NoError(t, os.WriteFile(badRound, []byte("templates:\n  round9:\n    user: x\n"), 0o644))
	_, err = NewRegistry(badRound)
	assert.Error(t, err)
}
