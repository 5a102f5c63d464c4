// Package store 是共识决策与下单记录的 SQLite 持久化实现（gorm）。
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"quorum/internal/decision"
)

// OrderRecord 是一次下单尝试的结果，按幂等键去重：同一键重复保存只更新结果并累加 Attempts。
type OrderRecord struct {
	IdempotencyKey string
	CycleID        string
	Symbol         string
	Action         decision.Action
	Side           string
	OrderType      string
	Qty            float64
	Price          float64
	Leverage       float64
	RiskBand       string
	StopLoss       float64
	TakeProfit     float64
	ReduceOnly     bool
	OK             bool
	OrderID        string
	ErrorCode      string
	ErrorMessage   string
	Attempts       int
	CreatedAt      time.Time
}

type Store struct {
	db *gorm.DB
}

// Open 打开（必要时创建）SQLite 文件并迁移表结构。驱动使用纯 Go 的 modernc sqlite。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db)
}

func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	if err := db.AutoMigrate(&decisionModel{}, &orderModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDecision 按 cycle_id 幂等写入。
func (s *Store) SaveDecision(ctx context.Context, d decision.ConsensusDecision) error {
	r1, err := json.Marshal(d.Round1)
	if err != nil {
		return err
	}
	r2, err := json.Marshal(d.Round2)
	if err != nil {
		return err
	}
	tally, err := json.Marshal(d.Tally)
	if err != nil {
		return err
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row := decisionModel{
		CycleID:         d.CycleID,
		Symbol:          d.Symbol,
		FinalAction:     string(d.FinalAction),
		FinalConfidence: d.FinalConfidence,
		MajorityLock:    d.MajorityLock,
		Round1JSON:      r1,
		Round2JSON:      r2,
		TallyJSON:       tally,
		CreatedAtUnix:   created.UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "cycle_id"}}, DoNothing: true}).
		Create(&row).Error
}

// SaveOrder 以幂等键 upsert。
func (s *Store) SaveOrder(ctx context.Context, rec OrderRecord) error {
	if strings.TrimSpace(rec.IdempotencyKey) == "" {
		return fmt.Errorf("store: order record missing idempotency key")
	}
	now := time.Now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	row := orderModel{
		IdempotencyKey: rec.IdempotencyKey,
		CycleID:        rec.CycleID,
		Symbol:         rec.Symbol,
		Action:         string(rec.Action),
		Side:           rec.Side,
		OrderType:      rec.OrderType,
		Qty:            rec.Qty,
		Price:          rec.Price,
		Leverage:       rec.Leverage,
		RiskBand:       rec.RiskBand,
		StopLoss:       rec.StopLoss,
		TakeProfit:     rec.TakeProfit,
		ReduceOnly:     rec.ReduceOnly,
		OK:             rec.OK,
		OrderID:        rec.OrderID,
		ErrorCode:      rec.ErrorCode,
		ErrorMessage:   rec.ErrorMessage,
		Attempts:       1,
		CreatedAtUnix:  created.UnixMilli(),
		UpdatedAtUnix:  now.UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "idempotency_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"ok":            row.OK,
			"order_id":      row.OrderID,
			"error_code":    row.ErrorCode,
			"error_message": row.ErrorMessage,
			"attempts":      gorm.Expr("attempts + 1"),
			"updated_at":    row.UpdatedAtUnix,
		}),
	}).Create(&row).Error
}

// RecentDecisions 返回 symbol 最近的决策，新的在前。symbol 为空表示全部。
func (s *Store) RecentDecisions(ctx context.Context, symbol string, limit int) ([]decision.ConsensusDecision, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Model(&decisionModel{}).Order("created_at DESC").Order("id DESC").Limit(limit)
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		q = q.Where("symbol = ?", sym)
	}
	var rows []decisionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]decision.ConsensusDecision, 0, len(rows))
	for _, row := range rows {
		d := decision.ConsensusDecision{
			CycleID:         row.CycleID,
			Symbol:          row.Symbol,
			FinalAction:     decision.Action(row.FinalAction),
			FinalConfidence: row.FinalConfidence,
			MajorityLock:    row.MajorityLock,
			CreatedAt:       time.UnixMilli(row.CreatedAtUnix),
		}
		if err := unmarshalJSON(row.Round1JSON, &d.Round1); err != nil {
			return nil, fmt.Errorf("decode round1 of %s: %w", row.CycleID, err)
		}
		if err := unmarshalJSON(row.Round2JSON, &d.Round2); err != nil {
			return nil, fmt.Errorf("decode round2 of %s: %w", row.CycleID, err)
		}
		if err := unmarshalJSON(row.TallyJSON, &d.Tally); err != nil {
			return nil, fmt.Errorf("decode tally of %s: %w", row.CycleID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// OrderByKey 查询幂等键对应的记录，不存在时返回 (nil, nil)。
func (s *Store) OrderByKey(ctx context.Context, key string) (*OrderRecord, error) {
	var row orderModel
	res := s.db.WithContext(ctx).Where("idempotency_key = ?", key).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &OrderRecord{
		IdempotencyKey: row.IdempotencyKey,
		CycleID:        row.CycleID,
		Symbol:         row.Symbol,
		Action:         decision.Action(row.Action),
		Side:           row.Side,
		OrderType:      row.OrderType,
		Qty:            row.Qty,
		Price:          row.Price,
		Leverage:       row.Leverage,
		RiskBand:       row.RiskBand,
		StopLoss:       row.StopLoss,
		TakeProfit:     row.TakeProfit,
		ReduceOnly:     row.ReduceOnly,
		OK:             row.OK,
		OrderID:        row.OrderID,
		ErrorCode:      row.ErrorCode,
		ErrorMessage:   row.ErrorMessage,
		Attempts:       row.Attempts,
		CreatedAt:      time.UnixMilli(row.CreatedAtUnix),
	}, nil
}

func unmarshalJSON(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
