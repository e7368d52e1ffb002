package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/diparb/internal/events"
)

// Recorder 把终态 round 与结算结果落到 sqlite，供状态接口回看
type Recorder struct {
	db  *sql.DB
	log *logrus.Entry
}

// RoundRecord rounds 表一行
type RoundRecord struct {
	RoundID     string    `json:"roundId"`
	MarketSlug  string    `json:"marketSlug"`
	Status      string    `json:"status"`
	TotalCost   float64   `json:"totalCost"`
	Profit      float64   `json:"profit"`
	Merged      bool      `json:"merged"`
	MergeTxHash string    `json:"mergeTxHash,omitempty"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// SettlementRecord settlements 表一行
type SettlementRecord struct {
	MarketSlug     string    `json:"marketSlug"`
	Strategy       string    `json:"strategy"`
	Success        bool      `json:"success"`
	AmountReceived float64   `json:"amountReceived"`
	TxHash         string    `json:"txHash,omitempty"`
	Error          string    `json:"error,omitempty"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// Open 打开（必要时建库建表）
func Open(path string) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("history 库路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建 history 目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	// SQLite：单连接更稳定
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &Recorder{db: db, log: logrus.WithField("component", "history")}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

func (r *Recorder) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS rounds (
  round_id TEXT PRIMARY KEY,
  market_slug TEXT NOT NULL,
  status TEXT NOT NULL,
  total_cost REAL NOT NULL DEFAULT 0,
  profit REAL NOT NULL DEFAULT 0,
  merged INTEGER NOT NULL DEFAULT 0,
  merge_tx TEXT,
  recorded_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_recorded ON rounds(recorded_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS settlements (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  market_slug TEXT NOT NULL,
  strategy TEXT NOT NULL,
  success INTEGER NOT NULL,
  amount_received REAL NOT NULL DEFAULT 0,
  tx_hash TEXT,
  error TEXT,
  recorded_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_recorded ON settlements(recorded_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history migrate: %w", err)
		}
	}
	return nil
}

// Attach 挂到事件总线上，roundComplete / settled 自动落库。
// 返回退订函数。
func (r *Recorder) Attach(em *events.Emitter) func() {
	return em.Subscribe(func(ev events.Event) {
		switch ev.Kind {
		case events.KindRoundComplete:
			p, ok := ev.Payload.(*events.RoundCompletePayload)
			if !ok {
				return
			}
			if err := r.RecordRound(p, ev.Timestamp); err != nil {
				r.log.Warnf("⚠️ round 落库失败: %v", err)
			}
		case events.KindSettled:
			p, ok := ev.Payload.(*events.SettledPayload)
			if !ok {
				return
			}
			if err := r.RecordSettlement(p, ev.Timestamp); err != nil {
				r.log.Warnf("⚠️ 结算记录落库失败: %v", err)
			}
		}
	})
}

// RecordRound 写一条终态 round，重复 roundID 覆盖（partial 后补 merge 场景）
func (r *Recorder) RecordRound(p *events.RoundCompletePayload, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
INSERT INTO rounds (round_id,market_slug,status,total_cost,profit,merged,merge_tx,recorded_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(round_id) DO UPDATE SET
  status=excluded.status, total_cost=excluded.total_cost, profit=excluded.profit,
  merged=excluded.merged, merge_tx=excluded.merge_tx, recorded_at=excluded.recorded_at
`, p.RoundID, p.MarketSlug, p.Status, p.TotalCost, p.Profit, boolInt(p.Merged), p.MergeTxHash,
		at.UTC().Format(time.RFC3339Nano))
	return err
}

// RecordSettlement 写一条结算结果
func (r *Recorder) RecordSettlement(p *events.SettledPayload, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
INSERT INTO settlements (market_slug,strategy,success,amount_received,tx_hash,error,recorded_at)
VALUES (?,?,?,?,?,?,?)
`, p.MarketSlug, p.Strategy, boolInt(p.Success), p.AmountReceived, p.TxHash, p.Error,
		at.UTC().Format(time.RFC3339Nano))
	return err
}

// RecentRounds 最近 limit 条终态 round，新的在前
func (r *Recorder) RecentRounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT round_id,market_slug,status,total_cost,profit,merged,COALESCE(merge_tx,''),recorded_at
FROM rounds ORDER BY recorded_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var rec RoundRecord
		var merged int
		var at string
		if err := rows.Scan(&rec.RoundID, &rec.MarketSlug, &rec.Status, &rec.TotalCost,
			&rec.Profit, &merged, &rec.MergeTxHash, &at); err != nil {
			return nil, err
		}
		rec.Merged = merged != 0
		rec.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentSettlements 最近 limit 条结算，新的在前
func (r *Recorder) RecentSettlements(ctx context.Context, limit int) ([]SettlementRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT market_slug,strategy,success,amount_received,COALESCE(tx_hash,''),COALESCE(error,''),recorded_at
FROM settlements ORDER BY recorded_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementRecord
	for rows.Next() {
		var rec SettlementRecord
		var success int
		var at string
		if err := rows.Scan(&rec.MarketSlug, &rec.Strategy, &success, &rec.AmountReceived,
			&rec.TxHash, &rec.Error, &at); err != nil {
			return nil, err
		}
		rec.Success = success != 0
		rec.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
