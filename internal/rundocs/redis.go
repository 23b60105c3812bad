package rundocs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	backend "github.com/redis/go-redis/v9"

	"microprobe/internal/hardware"
)

// RedisBackend stores runs as JSON documents:
//
//	<prefix>:run:<uid>          start and stop documents
//	<prefix>:run:<uid>:records  list of JSON records
//	<prefix>:runs               run uids, newest first
//	<prefix>:md                 beamline metadata hash
//	<prefix>:scan_id            scan id counter
type RedisBackend struct {
	client *backend.Client
	prefix string
}

// RedisOption customizes a RedisBackend.
type RedisOption func(*RedisBackend)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) {
		b.prefix = strings.TrimSuffix(prefix, ":")
	}
}

// NewRedisBackend connects to the Redis server at address.
func NewRedisBackend(address, password string, db int, opts ...RedisOption) *RedisBackend {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisBackendFromClient(client, opts...)
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *backend.Client, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{client: client, prefix: "microprobe"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ping verifies the server is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) runKey(uid string) string     { return b.prefix + ":run:" + uid }
func (b *RedisBackend) recordsKey(uid string) string { return b.prefix + ":run:" + uid + ":records" }
func (b *RedisBackend) indexKey() string             { return b.prefix + ":runs" }
func (b *RedisBackend) metadataKey() string          { return b.prefix + ":md" }
func (b *RedisBackend) scanIDKey() string            { return b.prefix + ":scan_id" }

// storedRun is the JSON value at runKey; the record count is derived from
// the records list.
type storedRun struct {
	Start StartDoc `json:"start"`
	Stop  *StopDoc `json:"stop,omitempty"`
}

func (b *RedisBackend) NextScanID(ctx context.Context) (int64, error) {
	id, err := b.client.Incr(ctx, b.scanIDKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("increment scan id: %w", err)
	}
	return id, nil
}

func (b *RedisBackend) PutStart(ctx context.Context, doc StartDoc) error {
	data, err := json.Marshal(storedRun{Start: doc})
	if err != nil {
		return fmt.Errorf("marshal start document: %w", err)
	}
	created, err := b.client.SetNX(ctx, b.runKey(doc.UID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("write start document: %w", err)
	}
	if !created {
		return fmt.Errorf("run %s already recorded", doc.UID)
	}
	if err := b.client.LPush(ctx, b.indexKey(), doc.UID).Err(); err != nil {
		return fmt.Errorf("index run: %w", err)
	}
	return nil
}

func (b *RedisBackend) AppendRecords(ctx context.Context, uid string, records []hardware.Record) error {
	if len(records) == 0 {
		return nil
	}
	exists, err := b.client.Exists(ctx, b.runKey(uid)).Result()
	if err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, uid)
	}
	values := make([]any, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", rec.Seq, err)
		}
		values = append(values, data)
	}
	if err := b.client.RPush(ctx, b.recordsKey(uid), values...).Err(); err != nil {
		return fmt.Errorf("append records: %w", err)
	}
	return nil
}

func (b *RedisBackend) PutStop(ctx context.Context, doc StopDoc) error {
	stored, err := b.load(ctx, doc.UID)
	if err != nil {
		return err
	}
	stop := doc
	stored.Stop = &stop
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal stop document: %w", err)
	}
	if err := b.client.Set(ctx, b.runKey(doc.UID), data, 0).Err(); err != nil {
		return fmt.Errorf("write stop document: %w", err)
	}
	return nil
}

func (b *RedisBackend) load(ctx context.Context, uid string) (storedRun, error) {
	val, err := b.client.Get(ctx, b.runKey(uid)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return storedRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, uid)
		}
		return storedRun{}, fmt.Errorf("read run %s: %w", uid, err)
	}
	var stored storedRun
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return storedRun{}, fmt.Errorf("decode run %s: %w", uid, err)
	}
	return stored, nil
}

func (b *RedisBackend) Run(ctx context.Context, uid string) (Run, error) {
	stored, err := b.load(ctx, uid)
	if err != nil {
		return Run{}, err
	}
	count, err := b.client.LLen(ctx, b.recordsKey(uid)).Result()
	if err != nil {
		return Run{}, fmt.Errorf("count records: %w", err)
	}
	return Run{Start: stored.Start, Stop: stored.Stop, Records: int(count)}, nil
}

func (b *RedisBackend) Runs(ctx context.Context, limit int) ([]Run, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	uids, err := b.client.LRange(ctx, b.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]Run, 0, len(uids))
	for _, uid := range uids {
		run, err := b.Run(ctx, uid)
		if errors.Is(err, ErrRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (b *RedisBackend) Records(ctx context.Context, uid string) ([]hardware.Record, error) {
	if _, err := b.load(ctx, uid); err != nil {
		return nil, err
	}
	raw, err := b.client.LRange(ctx, b.recordsKey(uid), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	records := make([]hardware.Record, 0, len(raw))
	for _, item := range raw {
		var rec hardware.Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (b *RedisBackend) Metadata(ctx context.Context) (map[string]string, error) {
	md, err := b.client.HGetAll(ctx, b.metadataKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return md, nil
}

func (b *RedisBackend) SetMetadata(ctx context.Context, key, value string) error {
	return b.client.HSet(ctx, b.metadataKey(), key, value).Err()
}

func (b *RedisBackend) DeleteMetadata(ctx context.Context, key string) error {
	return b.client.HDel(ctx, b.metadataKey(), key).Err()
}

// Close closes the redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
