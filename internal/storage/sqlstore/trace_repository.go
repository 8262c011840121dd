// Package sqlstore persists finished run traces in MySQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	xerrors "AgentKernel/internal/errors"
	"AgentKernel/internal/observability"
)

const defaultListLimit = 20

// TraceRepository 抽象运行轨迹的持久化接口。
type TraceRepository interface {
	Save(ctx context.Context, trace observability.RunTrace) error
	ListLatest(ctx context.Context, limit int) ([]observability.RunTrace, error)
	Get(ctx context.Context, runID string) (observability.RunTrace, error)
	Close() error
}

// SQLTraceRepository 使用 database/sql 存储运行轨迹。
// 常用字段单独成列便于查询，完整轨迹以 JSON 存入 payload。
type SQLTraceRepository struct {
	db     *sql.DB
	driver string
}

// NewSQLTraceRepository 创建连接池并执行迁移。
func NewSQLTraceRepository(ctx context.Context, cfg Config) (*SQLTraceRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化轨迹仓库失败")
	}
	if err := runMigrations(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "执行数据库迁移失败")
	}
	return &SQLTraceRepository{db: db, driver: cfg.Driver}, nil
}

// Save 写入一条轨迹，相同 run_id 重复写入时保留第一条。
func (s *SQLTraceRepository) Save(ctx context.Context, t observability.RunTrace) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("序列化运行轨迹失败: %w", err)
	}

	insert := "INSERT IGNORE INTO"
	if s.driver == DriverSQLite {
		insert = "INSERT OR IGNORE INTO"
	}
	stmt := insert + ` run_traces
        (run_id, conversation_id, started_at, ended_at, stage, mode, intent, complexity,
         memory_hits, plan_steps, tool_calls, safety_blocked, tool_loop_used, extraction_summary, payload)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		t.RunID,
		t.ConversationID,
		t.StartedAt.UnixMilli(),
		t.EndedAt.UnixMilli(),
		int(t.Stage),
		string(t.Mode),
		t.Perception.Intent,
		string(t.Perception.Complexity),
		t.MemoryHits,
		t.PlanSteps,
		t.ToolCalls,
		t.SafetyBlocked,
		t.ToolLoopUsed,
		truncate(t.ExtractionSummary(), 1024),
		string(payload),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入运行轨迹失败", xerrors.WithMetadata("run_id", t.RunID))
	}
	return nil
}

// ListLatest 按开始时间倒序返回最近的轨迹。
func (s *SQLTraceRepository) ListLatest(ctx context.Context, limit int) ([]observability.RunTrace, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM run_traces ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行轨迹失败")
	}
	defer rows.Close()

	var traces []observability.RunTrace
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("解析运行轨迹失败: %w", err)
		}
		var t observability.RunTrace
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("反序列化运行轨迹失败: %w", err)
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历运行轨迹失败: %w", err)
	}
	return traces, nil
}

// Get 按 run_id 查询轨迹，不存在时返回 NOT_FOUND。
func (s *SQLTraceRepository) Get(ctx context.Context, runID string) (observability.RunTrace, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM run_traces WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return observability.RunTrace{}, xerrors.New(xerrors.CodeNotFound, "运行轨迹不存在", xerrors.WithMetadata("run_id", runID))
	}
	if err != nil {
		return observability.RunTrace{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行轨迹失败")
	}
	var t observability.RunTrace
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return observability.RunTrace{}, fmt.Errorf("反序列化运行轨迹失败: %w", err)
	}
	return t, nil
}

// Prune 删除早于 before 的轨迹，返回删除条数。
func (s *SQLTraceRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM run_traces WHERE started_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理运行轨迹失败")
	}
	return res.RowsAffected()
}

// Close 关闭底层数据库连接。
func (s *SQLTraceRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Sink 把仓库包装为 observability.Sink。
func Sink(repo TraceRepository) observability.Sink {
	return &repositorySink{repo: repo}
}

type repositorySink struct {
	repo TraceRepository
}

func (s *repositorySink) Name() string { return "sql" }

func (s *repositorySink) Record(ctx context.Context, t observability.RunTrace) error {
	return s.repo.Save(ctx, t)
}

// truncate 按字节上限截断，不拆开多字节字符。
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := 0
	for i := range s {
		if i > max {
			break
		}
		end = i
	}
	return s[:end]
}
