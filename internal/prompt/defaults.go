package prompt

const (
	RoundIndependent     = "round1"
	RoundReconsideration = "round2"
)

const defaultSystem = `You are one member of a panel of independent trading analysts for USDT-margined perpetual futures.
Decide one action for the instrument: LONG, SHORT, HOLD or CLOSE (CLOSE only when a position is open).
Reply with a single JSON object and nothing else:
{"action": "...", "confidence": 0-100, "suggested_stop_loss": number|null, "suggested_take_profit": number|null, "qty_delta_factor": number|null, "reason": "..."}`

const defaultRound1User = `Instrument: {{.Snapshot.Symbol}}
Mark price: {{num .Snapshot.Price}}
ATR: {{num .Snapshot.ATR}}
Account equity: {{num .Snapshot.Equity}} USDT, free collateral: {{num .Snapshot.FreeCollateral}} USDT
Margin utilization: {{pct .Snapshot.MarginUtilization}}
{{- if .Snapshot.Position}}
Open position: {{.Snapshot.Position.Side}} {{num .Snapshot.Position.Qty}} @ {{num .Snapshot.Position.EntryPrice}}
{{- else}}
Open position: none
{{- end}}
Timestamp: {{.Snapshot.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}}

Give your independent decision.`

const defaultRound2User = `Instrument: {{.Snapshot.Symbol}}
Mark price: {{num .Snapshot.Price}}
ATR: {{num .Snapshot.ATR}}
Margin utilization: {{pct .Snapshot.MarginUtilization}}
{{- if .Snapshot.Position}}
Open position: {{.Snapshot.Position.Side}} {{num .Snapshot.Position.Qty}} @ {{num .Snapshot.Position.EntryPrice}}
{{- end}}

Round 1 answers from the panel:
{{- range .Peers}}
- {{.Name}}{{if .Self}} (you){{end}}: {{.Decision.Action}} confidence={{.Decision.Confidence}}{{if .Decision.Reason}} reason="{{.Decision.Reason}}"{{end}}
{{- end}}

Reconsider your decision in light of the panel. You may keep or change it.`

const defaultDecisionSchema = `{
  "type": "object",
  "required": ["action", "confidence"],
  "properties": {
    "action": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "suggested_stop_loss": {"type": ["number", "null"]},
    "suggested_take_profit": {"type": ["number", "null"]},
    "qty_delta_factor": {"type": ["number", "null"], "minimum": -1, "maximum": 1},
    "reason": {"type": "string"}
  }
}`
