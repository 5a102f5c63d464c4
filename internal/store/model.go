package store

import (
	"gorm.io/datatypes"
)

type decisionModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	CycleID         string         `gorm:"column:cycle_id;uniqueIndex"`
	Symbol          string         `gorm:"column:symbol;index:idx_decision_symbol_time,priority:1"`
	FinalAction     string         `gorm:"column:final_action"`
	FinalConfidence int            `gorm:"column:final_confidence"`
	MajorityLock    bool           `gorm:"column:majority_lock"`
	Round1JSON      datatypes.JSON `gorm:"column:round1_json;type:TEXT"`
	Round2JSON      datatypes.JSON `gorm:"column:round2_json;type:TEXT"`
	TallyJSON       datatypes.JSON `gorm:"column:tally_json;type:TEXT"`
	CreatedAtUnix   int64          `gorm:"column:created_at;index:idx_decision_symbol_time,priority:2"`
}

func (decisionModel) TableName() string { return "consensus_decisions" }

type orderModel struct {
	ID             int64   `gorm:"column:id;primaryKey"`
	IdempotencyKey string  `gorm:"column:idempotency_key;uniqueIndex"`
	CycleID        string  `gorm:"column:cycle_id;index"`
	Symbol         string  `gorm:"column:symbol;index"`
	Action         string  `gorm:"column:action"`
	Side           string  `gorm:"column:side"`
	OrderType      string  `gorm:"column:order_type"`
	Qty            float64 `gorm:"column:qty"`
	Price          float64 `gorm:"column:price"`
	Leverage       float64 `gorm:"column:leverage"`
	RiskBand       string  `gorm:"column:risk_band"`
	StopLoss       float64 `gorm:"column:stop_loss"`
	TakeProfit     float64 `gorm:"column:take_profit"`
	ReduceOnly     bool    `gorm:"column:reduce_only"`
	OK             bool    `gorm:"column:ok"`
	OrderID        string  `gorm:"column:order_id"`
	ErrorCode      string  `gorm:"column:error_code"`
	ErrorMessage   string  `gorm:"column:error_message"`
	Attempts       int     `gorm:"column:attempts"`
	CreatedAtUnix  int64   `gorm:"column:created_at"`
	UpdatedAtUnix  int64   `gorm:"column:updated_at"`
}

func (orderModel) TableName() string { return "order_records" }
