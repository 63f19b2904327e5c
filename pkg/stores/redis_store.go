package stores

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// streamField is the single field every stream entry carries.
const streamField = "d"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host        string        `yaml:"host" env:"HOST"`
	Port        int           `yaml:"port" env:"PORT" validate:"gte=0,lte=65535"`
	Database    int           `yaml:"database" env:"DATABASE" validate:"gte=0"`
	Username    string        `yaml:"username" env:"USERNAME"`
	Password    string        `yaml:"password" env:"PASSWORD"`
	KeyPrefix   string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize    int           `yaml:"pool_size" env:"POOL_SIZE" validate:"gte=0"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// NewRedisClient creates a client for cfg, filling in defaults.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6379
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 8
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	return redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:          cfg.Database,
		Username:    cfg.Username,
		Password:    cfg.Password,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
}

// RedisStore implements IndexedStorage with one Redis stream per key. Stream
// entry ids are "<id>-0", which makes Redis enforce the strictly increasing
// id invariant.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore wraps an existing client. Every key is prefixed with keyPrefix.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(ns Namespace, key string) string {
	return s.keyPrefix + compositeKey(ns, key)
}

// NumberOfReplicas returns the connected replicas plus the primary.
func (s *RedisStore) NumberOfReplicas(ctx context.Context) (uint8, error) {
	info, err := s.client.Info(ctx, "replication").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to query replication info: %w", err)
	}

	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		value, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "connected_slaves:")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid connected_slaves value %q: %w", value, err)
		}
		return uint8(min(n+1, 255)), nil
	}
	return 1, nil
}

// WaitForReplicas uses WAIT. The primary counts as one replica.
//
// WAIT only counts acknowledgements for writes made on the connection it is
// sent on. With a pooled client that connection may differ from the one the
// last append used, so the result is a lower bound on the replication of
// earlier writes.
func (s *RedisStore) WaitForReplicas(ctx context.Context, replicas uint8, timeout time.Duration) (uint8, error) {
	if replicas <= 1 {
		return replicas, nil
	}
	acked, err := s.client.Do(ctx, "WAIT", int(replicas)-1, timeout.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to wait for replicas: %w", err)
	}
	return uint8(min(acked+1, 255)), nil
}

func (s *RedisStore) Exists(ctx context.Context, ns Namespace, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(ns, key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key existence: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Scan(ctx context.Context, ns Namespace, pattern string, cursor uint64, count uint64) (uint64, []string, error) {
	prefix, exact, err := scanPrefix(pattern)
	if err != nil {
		return 0, nil, err
	}
	if count == 0 {
		count = 10
	}

	match := s.key(ns, escapeGlob(prefix))
	if !exact {
		match += "*"
	}

	keys, next, err := s.client.Scan(ctx, cursor, match, int64(count)).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	stripped := make([]string, 0, len(keys))
	for _, k := range keys {
		stripped = append(stripped, strings.TrimPrefix(k, s.key(ns, "")))
	}
	return next, stripped, nil
}

func (s *RedisStore) Append(ctx context.Context, ns Namespace, key string, id uint64, value []byte) error {
	if id == 0 {
		return ErrInvalidID
	}

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key(ns, key),
		ID:     streamID(id),
		Values: []any{streamField, value},
	}).Err()
	if err != nil {
		if strings.Contains(err.Error(), "equal or smaller") {
			return fmt.Errorf("%w: %d under %s", ErrDuplicateID, id, compositeKey(ns, key))
		}
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (s *RedisStore) Length(ctx context.Context, ns Namespace, key string) (uint64, error) {
	n, err := s.client.XLen(ctx, s.key(ns, key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get stream length: %w", err)
	}
	return uint64(n), nil
}

func (s *RedisStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := s.client.Del(ctx, s.key(ns, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context, ns Namespace, key string, startID, endID uint64) ([]Record, error) {
	if startID > endID {
		return []Record{}, nil
	}
	msgs, err := s.client.XRange(ctx, s.key(ns, key), streamID(startID), streamID(endID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return toRecords(msgs)
}

func (s *RedisStore) First(ctx context.Context, ns Namespace, key string) (Record, bool, error) {
	msgs, err := s.client.XRangeN(ctx, s.key(ns, key), "-", "+", 1).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read first record: %w", err)
	}
	return singleRecord(msgs)
}

func (s *RedisStore) Last(ctx context.Context, ns Namespace, key string) (Record, bool, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.key(ns, key), "+", "-", 1).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read last record: %w", err)
	}
	return singleRecord(msgs)
}

func (s *RedisStore) Closest(ctx context.Context, ns Namespace, key string, id uint64) (Record, bool, error) {
	msgs, err := s.client.XRangeN(ctx, s.key(ns, key), streamID(id), "+", 1).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read closest record: %w", err)
	}
	return singleRecord(msgs)
}

// DropPrefix trims the stream and removes it once empty, so Exists reports
// false after everything was dropped.
func (s *RedisStore) DropPrefix(ctx context.Context, ns Namespace, key string, lastDroppedID uint64) error {
	k := s.key(ns, key)
	if err := s.client.XTrimMinID(ctx, k, streamID(lastDroppedID+1)).Err(); err != nil {
		return fmt.Errorf("failed to trim stream: %w", err)
	}
	n, err := s.client.XLen(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("failed to get stream length: %w", err)
	}
	if n == 0 {
		if err := s.client.Del(ctx, k).Err(); err != nil {
			return fmt.Errorf("failed to delete empty stream: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func streamID(id uint64) string {
	return strconv.FormatUint(id, 10) + "-0"
}

func parseStreamID(id string) (uint64, error) {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream id %q: %w", id, err)
	}
	return n, nil
}

func toRecords(msgs []redis.XMessage) ([]Record, error) {
	records := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		r, err := toRecord(msg)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func singleRecord(msgs []redis.XMessage) (Record, bool, error) {
	if len(msgs) == 0 {
		return Record{}, false, nil
	}
	r, err := toRecord(msgs[0])
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func toRecord(msg redis.XMessage) (Record, error) {
	id, err := parseStreamID(msg.ID)
	if err != nil {
		return Record{}, err
	}
	raw, ok := msg.Values[streamField]
	if !ok {
		return Record{}, fmt.Errorf("stream entry %s has no %q field", msg.ID, streamField)
	}
	switch v := raw.(type) {
	case string:
		return Record{ID: id, Value: []byte(v)}, nil
	case []byte:
		return Record{ID: id, Value: v}, nil
	default:
		return Record{}, fmt.Errorf("stream entry %s has unexpected value type %T", msg.ID, raw)
	}
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
