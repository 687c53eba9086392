// Package logger 提供文件级日志管理：按日期与大小轮转、stderr 双写、过期清理。
// 日志文件默认存储在 ~/.clawdeck/logs/，面板宿主吞掉插件 stdout 时
// 仍可通过原始日志文件排查问题。
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/highclaw/clawdeck/internal/config"
)

const filePrefix = "clawdeck"

// Config 日志管理器配置
type Config struct {
	Dir           string
	Level         slog.Level
	MaxAgeDays    int  // 保留天数，0 不清理
	MaxSizeMB     int  // 单文件上限，超过后同日追加序号
	StderrEnabled bool // 是否双写到 stderr
}

// FromConfig 把配置文件中的 log 段转换为 Config
func FromConfig(c config.LogConfig) Config {
	stderr := true
	if c.StderrEnabled != nil {
		stderr = *c.StderrEnabled
	}
	return Config{
		Dir:           c.Dir,
		Level:         ParseLevel(c.Level),
		MaxAgeDays:    c.MaxAgeDays,
		MaxSizeMB:     c.MaxSizeMB,
		StderrEnabled: stderr,
	}
}

// ParseLevel 解析 debug/info/warn/error，未知值回落到 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultDir 返回默认日志目录
func DefaultDir() string {
	return filepath.Join(config.ConfigDir(), "logs")
}

// Manager 管理日志文件生命周期
type Manager struct {
	cfg     Config
	stderr  io.Writer
	now     func() time.Time
	mu      sync.Mutex
	file    *os.File
	curDate string
}

// New 创建日志管理器并打开当天的日志文件
func New(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir()
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 20
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	m := &Manager{cfg: cfg, stderr: os.Stderr, now: time.Now}
	m.mu.Lock()
	err := m.rotateLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Handler 返回写入日志文件的 slog.Handler
func (m *Manager) Handler() slog.Handler {
	return slog.NewTextHandler(m, &slog.HandlerOptions{Level: m.cfg.Level})
}

// NewLogger 返回写入日志文件的 logger；extra 中的 handler 同时收到每条记录
func (m *Manager) NewLogger(extra ...slog.Handler) *slog.Logger {
	if len(extra) == 0 {
		return slog.New(m.Handler())
	}
	return slog.New(Fanout(append([]slog.Handler{m.Handler()}, extra...)...))
}

// Write 实现 io.Writer，写前检查轮转
func (m *Manager) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.rotateLocked()
	if m.file != nil {
		n, err = m.file.Write(p)
	}
	if m.cfg.StderrEnabled && m.stderr != nil {
		_, _ = m.stderr.Write(p)
	}
	if m.file == nil {
		n = len(p)
	}
	return n, err
}

// Close 关闭日志文件
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// Dir 返回日志目录
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// CurrentFile 返回当前日志文件路径
func (m *Manager) CurrentFile() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		return m.file.Name()
	}
	return fileName(m.cfg.Dir, m.today())
}

func (m *Manager) today() string {
	return m.now().Format("2006-01-02")
}

func (m *Manager) limit() int64 {
	return int64(m.cfg.MaxSizeMB) * 1024 * 1024
}

func (m *Manager) rotateLocked() error {
	today := m.today()
	switch {
	case m.file == nil, m.curDate != today:
	default:
		info, err := m.file.Stat()
		if err != nil || info.Size() < m.limit() {
			return nil
		}
	}

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	path := fileName(m.cfg.Dir, today)
	if info, err := os.Stat(path); err == nil && info.Size() >= m.limit() {
		for seq := 1; seq < 100; seq++ {
			candidate := filepath.Join(m.cfg.Dir, fmt.Sprintf("%s-%s.%d.log", filePrefix, today, seq))
			info, err := os.Stat(candidate)
			if errors.Is(err, os.ErrNotExist) || (err == nil && info.Size() < m.limit()) {
				path = candidate
				break
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	m.file = f
	m.curDate = today
	return nil
}

// Cleanup 删除超过保留天数的日志文件，返回删除数量
func (m *Manager) Cleanup() (int, error) {
	if m.cfg.MaxAgeDays <= 0 {
		return 0, nil
	}
	files, err := ListFiles(m.cfg.Dir)
	if err != nil {
		return 0, err
	}
	current := m.CurrentFile()
	cutoff := m.now().AddDate(0, 0, -m.cfg.MaxAgeDays)
	removed := 0
	for _, f := range files {
		if f.Path == current || !f.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.Path); err == nil {
			removed++
		}
	}
	return removed, nil
}

// FileInfo 描述单个日志文件
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// ListFiles 列出目录下的日志文件，按修改时间倒序
func ListFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// TotalSize 返回日志目录总大小（字节）
func TotalSize(dir string) (int64, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

// Tail 读取文件最后 n 行（跳过空行），n<=0 时取 200 行
func Tail(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 200
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Follow 持续输出文件新增内容，直到 ctx 结束
func Follow(ctx context.Context, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	buf := make([]byte, 4096)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			_, _ = w.Write(buf[:n])
		}
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
		}
	}
}

func fileName(dir, date string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", filePrefix, date))
}
