package repository

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

// RedisAuditRepo stores audit entries in a sorted set scored by creation time
// in milliseconds, trimmed to the newest listMax members. Used when no
// database is configured.
type RedisAuditRepo struct {
	client  *RedisClient
	key     string
	listMax int64
}

func NewRedisAuditRepo(client *RedisClient, key string, listMax int) *RedisAuditRepo {
	if key == "" {
		key = "audit_logs"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisAuditRepo{client: client, key: key, listMax: int64(listMax)}
}

func (r *RedisAuditRepo) Insert(ctx context.Context, entry *model.AuditLog) error {
	if entry == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	score := float64(entry.CreatedAt.UnixMilli())
	_, err = r.client.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, r.key, redis.Z{Score: score, Member: payload})
		// 只保留最新 listMax 条
		p.ZRemRangeByRank(ctx, r.key, 0, -r.listMax-1)
		return nil
	})
	return err
}

// List reads newest first within the filter's time window, then applies the
// kind and strategy filters client side.
func (r *RedisAuditRepo) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: int64(max(limit*5, 100))}
	if filter.From != nil {
		rng.Min = strconv.FormatInt(filter.From.UnixMilli(), 10)
	}
	if filter.To != nil {
		rng.Max = strconv.FormatInt(filter.To.UnixMilli(), 10)
	}
	items, err := r.client.Client.ZRevRangeByScore(ctx, r.key, rng).Result()
	if err != nil {
		return nil, err
	}
	return filterAuditEntries(items, filter, limit), nil
}

func filterAuditEntries(items []string, filter model.AuditFilter, limit int) []*model.AuditLog {
	out := make([]*model.AuditLog, 0, min(limit, len(items)))
	for _, raw := range items {
		entry := new(model.AuditLog)
		if json.Unmarshal([]byte(raw), entry) != nil || !filter.Match(entry) {
			continue
		}
		out = append(out, entry)
		if len(out) == limit {
			break
		}
	}
	return out
}
