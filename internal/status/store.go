// Package status is the outward status surface of the realtime core:
// presence snapshots and per-conversation unread counters kept in
// Redis, where dashboard widgets and other services can read them
// without talking to the hub process.
package status

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ripple/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceKey    = "ripple:presence"          // hash: user id → status
	unreadKeyFmt   = "ripple:unread:%s"         // hash per user: conversation id → count
	lastSeenKeyFmt = "ripple:presence:seen:%s"  // string per user: RFC3339 transition time
	lastSeenTTL    = 30 * 24 * time.Hour
)

// Store implements the hub's StatusSink on Redis. All writes are
// best-effort: a Redis outage degrades the dashboard surface, never
// message delivery, so failures are logged and swallowed.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func New(ctx context.Context, redisURL string, logger *zap.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis connection established", zap.String("addr", opts.Addr))
	return &Store{rdb: rdb, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) SetPresence(ctx context.Context, userID uuid.UUID, st models.PresenceStatus) {
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, presenceKey, userID.String(), string(st))
	pipe.Set(ctx, fmt.Sprintf(lastSeenKeyFmt, userID), time.Now().UTC().Format(time.RFC3339), lastSeenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("presence snapshot write failed", zap.Error(err))
	}
}

func (s *Store) IncrUnread(ctx context.Context, userID, conversationID uuid.UUID) {
	key := fmt.Sprintf(unreadKeyFmt, userID)
	if err := s.rdb.HIncrBy(ctx, key, conversationID.String(), 1).Err(); err != nil {
		s.logger.Warn("unread increment failed", zap.Error(err))
	}
}

func (s *Store) ClearUnread(ctx context.Context, userID, conversationID uuid.UUID) {
	key := fmt.Sprintf(unreadKeyFmt, userID)
	if err := s.rdb.HDel(ctx, key, conversationID.String()).Err(); err != nil {
		s.logger.Warn("unread clear failed", zap.Error(err))
	}
}

// Presence reads the snapshot for a set of users. Unknown users report
// offline — a user who has never connected has no hash entry.
func (s *Store) Presence(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.PresenceStatus, error) {
	out := make(map[uuid.UUID]models.PresenceStatus, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	fields := make([]string, len(userIDs))
	for i, id := range userIDs {
		fields[i] = id.String()
	}
	vals, err := s.rdb.HMGet(ctx, presenceKey, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence snapshot: %w", err)
	}

	for i, v := range vals {
		st := models.StatusOffline
		if raw, ok := v.(string); ok && raw != "" {
			st = models.PresenceStatus(raw)
		}
		out[userIDs[i]] = st
	}
	return out, nil
}

// UnreadCounts returns a user's per-conversation unread counters.
func (s *Store) UnreadCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int64, error) {
	key := fmt.Sprintf(unreadKeyFmt, userID)
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read unread counts: %w", err)
	}

	out := make(map[uuid.UUID]int64, len(raw))
	for field, val := range raw {
		convID, err := uuid.Parse(field)
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out[convID] = n
	}
	return out, nil
}
