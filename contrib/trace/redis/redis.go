// Package redis appends answer trace records to a Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/coach-qa/answer"
	"github.com/sweetpotato0/coach-qa/config"
	"github.com/sweetpotato0/coach-qa/errors"
)

// Sink writes one stream entry per record. The stream is capped
// approximately at MaxLen entries.
type Sink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// New creates a sink from cfg. It does not dial; use Ping to check the server.
func New(cfg config.RedisConfig) (*Sink, error) {
	if err := config.ValidateRedisConfig(cfg.Addr, cfg.DB, cfg.Stream); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.Stream, cfg.MaxLen), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, stream string, maxLen int64) *Sink {
	return &Sink{client: client, stream: stream, maxLen: maxLen}
}

// Append implements trace.Sink.
func (s *Sink) Append(ctx context.Context, rec answer.Record) error {
	values, err := encode(rec)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: append trace: %v", errors.ErrStoreUnavailable, err)
	}
	return nil
}

// encode flattens the fields operators filter on next to the full JSON record.
func encode(rec answer.Record) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trace record: %w", err)
	}
	return map[string]any{
		"record_id":       rec.ID,
		"question_id":     rec.Question.ID,
		"coach_id":        rec.Question.CoachID,
		"outcome":         rec.Outcome,
		"risk_level":      string(rec.Package.Safety.RiskLevel),
		"review_required": strconv.FormatBool(rec.ReviewRequired),
		"record":          string(data),
	}, nil
}

// Recent returns up to n records, newest first.
func (s *Sink) Recent(ctx context.Context, n int64) ([]answer.Record, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read traces: %v", errors.ErrStoreUnavailable, err)
	}
	out := make([]answer.Record, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["record"].(string)
		if !ok {
			continue
		}
		var rec answer.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace %s: %w", m.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping checks if the Redis connection is alive.
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Sink) Close() error {
	return s.client.Close()
}
