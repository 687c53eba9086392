// Package journal 提供基于 SQLite 的面板动作审计记录。
// 每次按键派发记录一条：动作、命令、模型、结果、耗时；每次进程启动生成一个 run id。
// 存储位置默认 ~/.clawdeck/state/journal.db，尽力而为，不提供持久性保证。
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/highclaw/clawdeck/internal/config"
	_ "modernc.org/sqlite"
)

// 记录状态
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusIgnored = "ignored"
)

// TimeLayout 固定宽度的 UTC 时间格式，保证按字符串排序即按时间排序
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Config 审计记录配置
type Config struct {
	Dir        string
	MaxAgeDays int // 保留天数，0 不清理
	MaxRecords int // 最大记录数，0 不限制
}

// FromConfig 从配置文件 journal 段构造 Config
func FromConfig(c config.JournalConfig) Config {
	return Config{Dir: c.Dir, MaxAgeDays: c.MaxAgeDays, MaxRecords: c.MaxRecords}
}

// DefaultDir 返回默认数据库目录
func DefaultDir() string {
	return filepath.Join(config.ConfigDir(), "state")
}

// Entry 单条动作记录
type Entry struct {
	ID           int64  `json:"id"`
	RunID        string `json:"runId"`
	ActionID     string `json:"actionId"`
	Command      string `json:"command"`
	Model        string `json:"model,omitempty"`
	Transport    string `json:"transport"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	DurationMs   int64  `json:"durationMs"`
	CreatedAt    string `json:"createdAt"`
}

// Store 审计记录存储
type Store struct {
	cfg    Config
	dbPath string
	runID  string
	db     *sql.DB
	mu     sync.Mutex
}

// Open 打开（必要时创建）数据库
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	s := &Store{
		cfg:    cfg,
		dbPath: filepath.Join(cfg.Dir, "journal.db"),
		runID:  uuid.NewString(),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return err
	}

	ddl := `
CREATE TABLE IF NOT EXISTS actions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL DEFAULT '',
  action_id TEXT NOT NULL DEFAULT '',
  command TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  transport TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'success',
  error_message TEXT NOT NULL DEFAULT '',
  duration_ms INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create actions table: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_actions_action ON actions(action_id);",
		"CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);",
		"CREATE INDEX IF NOT EXISTS idx_actions_run ON actions(run_id);",
	} {
		_, _ = db.Exec(idx)
	}

	// 错误信息与模型名的全文索引
	_, _ = db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS actions_fts USING fts5(
		model, error_message, content=actions, content_rowid=id
	);`)
	_, _ = db.Exec(`CREATE TRIGGER IF NOT EXISTS actions_fts_ai AFTER INSERT ON actions BEGIN
		INSERT INTO actions_fts(rowid, model, error_message) VALUES (new.id, new.model, new.error_message);
	END;`)
	_, _ = db.Exec(`CREATE TRIGGER IF NOT EXISTS actions_fts_ad AFTER DELETE ON actions BEGIN
		INSERT INTO actions_fts(actions_fts, rowid, model, error_message) VALUES ('delete', old.id, old.model, old.error_message);
	END;`)
	return nil
}

func (s *Store) openDB() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("sqlite", s.dbPath+"?_pragma=busy_timeout%3d5000&_pragma=journal_mode%3dwal")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	return db, nil
}

// RunID 返回本次进程的 run id
func (s *Store) RunID() string {
	return s.runID
}

// Path 返回数据库文件路径
func (s *Store) Path() string {
	return s.dbPath
}

// Record 写入一条记录，缺省字段自动补齐
func (s *Store) Record(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return err
	}
	if e.RunID == "" {
		e.RunID = s.runID
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	if e.CreatedAt == "" {
		e.CreatedAt = time.Now().UTC().Format(TimeLayout)
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO actions(run_id, action_id, command, model, transport, status, error_message, duration_ms, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.RunID, e.ActionID, e.Command, e.Model, e.Transport, e.Status, e.ErrorMessage, e.DurationMs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// Get 按 ID 读取，不存在时返回 nil, nil
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}
	var e Entry
	err = db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM actions WHERE id=?", id).Scan(entryFields(&e)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const entryColumns = "id, run_id, action_id, command, model, transport, status, error_message, duration_ms, created_at"

func entryFields(e *Entry) []any {
	return []any{&e.ID, &e.RunID, &e.ActionID, &e.Command, &e.Model, &e.Transport,
		&e.Status, &e.ErrorMessage, &e.DurationMs, &e.CreatedAt}
}

// Query 查询参数
type Query struct {
	ActionID string
	Status   string
	RunID    string
	Search   string // 全文搜索模型名与错误信息
	Since    string // TimeLayout 格式，含
	Limit    int
	Offset   int
}

// List 分页查询，按时间倒序，返回记录与总数
func (s *Store) List(ctx context.Context, q Query) ([]Entry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, 0, err
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if q.ActionID != "" {
		add("action_id=?", q.ActionID)
	}
	if q.Status != "" {
		add("status=?", q.Status)
	}
	if q.RunID != "" {
		add("run_id=?", q.RunID)
	}
	if q.Search != "" {
		add("id IN (SELECT rowid FROM actions_fts WHERE actions_fts MATCH ?)", ftsQuery(q.Search))
	}
	if q.Since != "" {
		add("created_at>=?", q.Since)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM actions"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM actions"+where+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(entryFields(&e)...); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Stats 统计信息
type Stats struct {
	Total         int            `json:"total"`
	ByAction      map[string]int `json:"byAction"`
	ByStatus      map[string]int `json:"byStatus"`
	AvgDurationMs float64        `json:"avgDurationMs"`
	Earliest      string         `json:"earliest"`
	Latest        string         `json:"latest"`
}

// Stats 返回汇总统计
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}
	st := &Stats{ByAction: map[string]int{}, ByStatus: map[string]int{}}
	err = db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MIN(created_at),''), COALESCE(MAX(created_at),'') FROM actions`).
		Scan(&st.Total, &st.Earliest, &st.Latest)
	if err != nil {
		return nil, err
	}
	_ = db.QueryRowContext(ctx, "SELECT COALESCE(AVG(duration_ms),0) FROM actions WHERE duration_ms>0").Scan(&st.AvgDurationMs)
	if err := groupCount(ctx, db, "SELECT action_id, COUNT(*) FROM actions GROUP BY action_id", st.ByAction); err != nil {
		return nil, err
	}
	if err := groupCount(ctx, db, "SELECT status, COUNT(*) FROM actions GROUP BY status", st.ByStatus); err != nil {
		return nil, err
	}
	return st, nil
}

// Cleanup 按保留天数与最大条数清理，参数为 0 时使用配置值
func (s *Store) Cleanup(ctx context.Context, maxAgeDays, maxRecords int) (int64, error) {
	if maxAgeDays == 0 {
		maxAgeDays = s.cfg.MaxAgeDays
	}
	if maxRecords == 0 {
		maxRecords = s.cfg.MaxRecords
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return 0, err
	}

	var deleted int64
	if maxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UTC().Format(TimeLayout)
		res, err := db.ExecContext(ctx, "DELETE FROM actions WHERE created_at < ?", cutoff)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	if maxRecords > 0 {
		res, err := db.ExecContext(ctx,
			"DELETE FROM actions WHERE id NOT IN (SELECT id FROM actions ORDER BY created_at DESC, id DESC LIMIT ?)", maxRecords)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

// Count 返回总记录数
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.openDB()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM actions").Scan(&n)
	return n, err
}

// Close 关闭数据库
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func groupCount(ctx context.Context, db *sql.DB, query string, into map[string]int) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// ftsQuery 把输入拆词后用 OR 连接，每个词加引号转义
func ftsQuery(input string) string {
	words := strings.Fields(input)
	if len(words) == 0 {
		return `""`
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(parts, " OR ")
}
