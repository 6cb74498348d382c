// Package redis persists trust snapshots so calibrated weights survive a
// restart.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
	goredis "github.com/redis/go-redis/v9"
)

// saveScript writes the snapshot only when its version is newer than the
// stored one. Returns 1 when written.
var saveScript = goredis.NewScript(`
	local current = tonumber(redis.call('HGET', KEYS[1], 'version'))
	local incoming = tonumber(ARGV[1])
	if current ~= nil and current >= incoming then
		return 0
	end
	redis.call('HSET', KEYS[1], 'version', ARGV[1], 'snapshot', ARGV[2])
	return 1
`)

// TrustStore stores the latest trust snapshot in a Redis hash.
// It implements tracker.SnapshotSink.
type TrustStore struct {
	client *goredis.Client
	key    string
	logger *slog.Logger
}

// NewTrustStore connects to addr. The connection is verified lazily by
// CheckReadiness.
func NewTrustStore(addr, key string, logger *slog.Logger) *TrustStore {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &TrustStore{client: client, key: key, logger: logger.With("redis_key", key)}
}

// SaveTrust persists snap unless a newer snapshot is already stored.
func (s *TrustStore) SaveTrust(ctx context.Context, snap *ensemble.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	written, err := saveScript.Run(ctx, s.client, []string{s.key}, snap.Version, data).Int()
	if err != nil {
		return fmt.Errorf("save trust snapshot: %w", err)
	}
	if written == 0 {
		s.logger.Debug("stale trust snapshot not saved", "trust_version", snap.Version)
	}
	return nil
}

// Load returns the stored snapshot. The boolean is false when nothing has
// been stored yet.
func (s *TrustStore) Load(ctx context.Context) (*ensemble.Snapshot, bool, error) {
	data, err := s.client.HGet(ctx, s.key, "snapshot").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load trust snapshot: %w", err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// Version returns the stored snapshot version, or 0 if none.
func (s *TrustStore) Version(ctx context.Context) (uint64, error) {
	v, err := s.client.HGet(ctx, s.key, "version").Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read trust version: %w", err)
	}
	return strconv.ParseUint(v, 10, 64)
}

// CheckReadiness pings Redis.
func (s *TrustStore) CheckReadiness(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis not reachable: %w", err)
	}
	return nil
}

func (s *TrustStore) Close() error {
	return s.client.Close()
}

func encodeSnapshot(snap *ensemble.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, errors.New("encode trust snapshot: nil snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode trust snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*ensemble.Snapshot, error) {
	var snap ensemble.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode trust snapshot: %w", err)
	}
	if snap.Weights == nil {
		snap.Weights = map[string]ensemble.TrustWeight{}
	}
	return &snap, nil
}
