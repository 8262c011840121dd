package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"AgentKernel/pkg/logger"
)

// RedisStoreConfig 描述 Redis 记忆存储的连接参数。
type RedisStoreConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// RedisStore 使用一个 Redis hash 保存全部记忆，field 为记忆 id。
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 存储并检查连通性。
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "agentkernel:memory"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// Save 写入或覆盖一条记忆。
func (r *RedisStore) Save(ctx context.Context, rec Record) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化记忆失败: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, rec.ID, encoded).Err(); err != nil {
		return fmt.Errorf("Redis 写入记忆失败: %w", err)
	}
	return nil
}

// Delete 删除一条记忆。
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("Redis 删除记忆失败: %w", err)
	}
	return nil
}

// Load 读取全部记忆，按时间升序。
func (r *RedisStore) Load(ctx context.Context) ([]Record, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("Redis 读取记忆失败: %w", err)
	}
	records, skipped := decodeRecords(values)
	if skipped > 0 {
		logger.Named("memory").Warn("跳过无法解析的 Redis 记忆", slog.String("key", r.key), slog.Int("skipped", skipped))
	}
	return records, nil
}

// decodeRecords 解析 hash 中的记录并按时间升序排列，返回无法解析的条数。
func decodeRecords(values map[string]string) ([]Record, int) {
	records := make([]Record, 0, len(values))
	skipped := 0
	for _, raw := range values {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records, skipped
}

// Clear 删除整个 hash。
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("Redis 清空记忆失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
