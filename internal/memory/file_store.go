package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"AgentKernel/pkg/logger"
)

type fileOp string

const (
	fileOpPut    fileOp = "put"
	fileOpDelete fileOp = "delete"
	fileOpClear  fileOp = "clear"
)

type fileEntry struct {
	Op     fileOp  `json:"op"`
	ID     string  `json:"id,omitempty"`
	Record *Record `json:"record,omitempty"`
}

// FileStore 以追加写 JSON 行的方式持久化记忆，加载时按操作顺序回放。
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore 在 dataDir 下创建 memory.log。
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	return &FileStore{path: filepath.Join(dataDir, "memory.log")}, nil
}

// Save 追加一条写入记录。
func (f *FileStore) Save(_ context.Context, rec Record) error {
	return f.append(fileEntry{Op: fileOpPut, ID: rec.ID, Record: &rec})
}

// Delete 追加一条删除记录。
func (f *FileStore) Delete(_ context.Context, id string) error {
	return f.append(fileEntry{Op: fileOpDelete, ID: id})
}

// Clear 追加一条清空记录，之前的写入在回放时全部失效。
func (f *FileStore) Clear(_ context.Context) error {
	return f.append(fileEntry{Op: fileOpClear})
}

func (f *FileStore) append(entry fileEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化记忆失败: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开记忆日志失败: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入记忆日志失败: %w", err)
	}
	return nil
}

// Load 回放日志并返回仍然有效的记录，按时间升序。
func (f *FileStore) Load(_ context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("读取记忆日志失败: %w", err)
	}
	defer file.Close()

	live := make(map[string]Record)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	skipped := 0
	for scanner.Scan() {
		var entry fileEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			skipped++
			continue
		}
		switch entry.Op {
		case fileOpPut:
			if entry.Record != nil {
				live[entry.ID] = *entry.Record
			}
		case fileOpDelete:
			delete(live, entry.ID)
		case fileOpClear:
			live = make(map[string]Record)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("解析记忆日志失败: %w", err)
	}
	if skipped > 0 {
		logger.Named("memory").Warn("跳过无法解析的记忆日志行", slog.String("path", f.path), slog.Int("skipped", skipped))
	}

	records := make([]Record, 0, len(live))
	for _, rec := range live {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records, nil
}

// Close 无需释放资源。
func (f *FileStore) Close() error { return nil }
