package incident

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	soarerr "boundary-soar/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	TTL          time.Duration `yaml:"ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MaxRetries   int           `yaml:"max_retries"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// DefaultRedisConfig returns a config for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "soar:",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MaxRetries:   3,
	}
}

// maxUpdateRetries bounds optimistic-lock retries in Update.
const maxUpdateRetries = 10

// RedisStore persists incidents as JSON values. Incident ids are indexed in
// a sorted set scored by creation time; executions live in a hash per
// incident.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, &StoreError{Op: "Connect", Key: cfg.Addr, Err: err}
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) incidentKey(id string) string   { return s.prefix + "incident:" + id }
func (s *RedisStore) indexKey() string               { return s.prefix + "incidents" }
func (s *RedisStore) executionsKey(id string) string { return s.prefix + "executions:" + id }
func (s *RedisStore) execCountKey() string           { return s.prefix + "executions_total" }

func (s *RedisStore) Create(ctx context.Context, inc *Incident) error {
	if inc == nil || inc.ID == "" {
		return &StoreError{Op: "Create", Err: errors.New("incident id is required")}
	}
	data, err := json.Marshal(inc)
	if err != nil {
		return &StoreError{Op: "Create", Key: inc.ID, Err: err}
	}

	ok, err := s.client.SetNX(ctx, s.incidentKey(inc.ID), data, s.ttl).Result()
	if err != nil {
		return &StoreError{Op: "Create", Key: inc.ID, Err: err}
	}
	if !ok {
		return &StoreError{Op: "Create", Key: inc.ID, Err: errors.New("incident already exists")}
	}

	score := float64(inc.CreatedAt.UnixNano())
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: inc.ID}).Err(); err != nil {
		return &StoreError{Op: "Create", Key: inc.ID, Err: err}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Incident, error) {
	data, err := s.client.Get(ctx, s.incidentKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &StoreError{Op: "Get", Key: id, Err: soarerr.ErrIncidentNotFound}
		}
		return nil, &StoreError{Op: "Get", Key: id, Err: err}
	}
	return decodeIncident(id, data)
}

// Update performs an optimistic read-modify-write using WATCH/MULTI and
// retries when another writer touched the key.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Incident) error) (*Incident, error) {
	key := s.incidentKey(id)
	var updated *Incident

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return &StoreError{Op: "Update", Key: id, Err: soarerr.ErrIncidentNotFound}
			}
			return err
		}
		inc, err := decodeIncident(id, data)
		if err != nil {
			return err
		}
		if err := fn(inc); err != nil {
			return err
		}
		inc.ID = id

		out, err := json.Marshal(inc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = inc
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, &StoreError{Op: "Update", Key: id, Err: errors.New("too many concurrent updates")}
}

func (s *RedisStore) List(ctx context.Context) ([]*Incident, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, &StoreError{Op: "List", Err: err}
	}
	if len(ids) == 0 {
		return []*Incident{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.incidentKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, &StoreError{Op: "List", Err: err}
	}

	out := make([]*Incident, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Expired by TTL; drop the stale index entry.
			s.client.ZRem(ctx, s.indexKey(), ids[i])
			continue
		}
		inc, err := decodeIncident(ids[i], []byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	sortIncidents(out)
	return out, nil
}

func (s *RedisStore) SaveExecution(ctx context.Context, exec *Execution) error {
	if exec == nil || exec.ID == "" {
		return &StoreError{Op: "SaveExecution", Err: errors.New("execution id is required")}
	}
	data, err := json.Marshal(exec)
	if err != nil {
		return &StoreError{Op: "SaveExecution", Key: exec.ID, Err: err}
	}

	key := s.executionsKey(exec.IncidentID)
	added, err := s.client.HSet(ctx, key, exec.ID, data).Result()
	if err != nil {
		return &StoreError{Op: "SaveExecution", Key: exec.ID, Err: err}
	}
	if added > 0 {
		pipe := s.client.Pipeline()
		pipe.Incr(ctx, s.execCountKey())
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return &StoreError{Op: "SaveExecution", Key: exec.ID, Err: err}
		}
	}
	return nil
}

func (s *RedisStore) Executions(ctx context.Context, incidentID string) ([]*Execution, error) {
	vals, err := s.client.HGetAll(ctx, s.executionsKey(incidentID)).Result()
	if err != nil {
		return nil, &StoreError{Op: "Executions", Key: incidentID, Err: err}
	}

	out := make([]*Execution, 0, len(vals))
	for id, v := range vals {
		var e Execution
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, &StoreError{Op: "Executions", Key: id, Err: err}
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *RedisStore) ExecutionCount(ctx context.Context) (int, error) {
	n, err := s.client.Get(ctx, s.execCountKey()).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, &StoreError{Op: "ExecutionCount", Err: err}
	}
	return n, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &StoreError{Op: "Ping", Err: err}
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeIncident(id string, data []byte) (*Incident, error) {
	var inc Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return nil, &StoreError{Op: "Decode", Key: id, Err: fmt.Errorf("invalid incident record: %w", err)}
	}
	return &inc, nil
}
