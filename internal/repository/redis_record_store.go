package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "bulkmail"

var _ RecordStore = (*RedisRecordStore)(nil)

// RedisRecordStore keeps one hash per identifier and a sorted set of
// identifiers scored by record time (unix milliseconds).
type RedisRecordStore struct {
	client    *goredis.Client
	prefix    string
	closeOnce sync.Once
	closeErr  error
}

func NewRedisRecordStore(client *goredis.Client, keyPrefix string) (*RedisRecordStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	prefix := strings.Trim(strings.TrimSpace(keyPrefix), ":")
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}

	return &RedisRecordStore{client: client, prefix: prefix}, nil
}

func (s *RedisRecordStore) recordKey(id domain.Identifier) string {
	return fmt.Sprintf("%s:record:%s", s.prefix, id)
}

func (s *RedisRecordStore) timelineKey() string {
	return s.prefix + ":records:by_time"
}

func (s *RedisRecordStore) HasRecord(ctx context.Context, id domain.Identifier) (bool, error) {
	n, err := s.client.Exists(ctx, s.recordKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisRecordStore) Upsert(ctx context.Context, record domain.DeliveryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	sentAt := record.SentAt.UTC()
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(record.Identifier),
			"address", record.Address,
			"status", record.Status.String(),
			"sent_at", sentAt.Format(time.RFC3339Nano),
		)
		pipe.ZAdd(ctx, s.timelineKey(), goredis.Z{
			Score:  float64(sentAt.UnixMilli()),
			Member: record.Identifier.String(),
		})
		return nil
	})
	return err
}

func (s *RedisRecordStore) LastIdentifier(ctx context.Context) (domain.Identifier, bool, error) {
	newest, err := s.client.ZRevRangeWithScores(ctx, s.timelineKey(), 0, 0).Result()
	if err != nil {
		return 0, false, err
	}
	if len(newest) == 0 {
		return 0, false, nil
	}

	// Members sort lexicographically within a score, so ties are resolved numerically here.
	score := strconv.FormatFloat(newest[0].Score, 'f', -1, 64)
	members, err := s.client.ZRangeByScore(ctx, s.timelineKey(), &goredis.ZRangeBy{
		Min: score,
		Max: score,
	}).Result()
	if err != nil {
		return 0, false, err
	}

	var (
		last  domain.Identifier
		found bool
	)
	for _, member := range members {
		id, err := domain.ParseIdentifier(member)
		if err != nil {
			return 0, false, err
		}
		if !found || id > last {
			last = id
			found = true
		}
	}
	return last, found, nil
}

func (s *RedisRecordStore) Get(ctx context.Context, id domain.Identifier) (*domain.DeliveryRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}

	status, err := domain.ParseRecordStatus(fields["status"])
	if err != nil {
		return nil, err
	}
	sentAt, err := time.Parse(time.RFC3339Nano, fields["sent_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid sent_at %q: %w", fields["sent_at"], err)
	}

	return &domain.DeliveryRecord{
		Identifier: id,
		Address:    fields["address"],
		Status:     status,
		SentAt:     sentAt,
	}, nil
}

func (s *RedisRecordStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisRecordStore) Close() error {
	s.closeOnce.Do(func() {
		err := s.client.Close()
		if errors.Is(err, goredis.ErrClosed) {
			err = nil
		}
		s.closeErr = err
	})
	return s.closeErr
}

