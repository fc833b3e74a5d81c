// Package receipt records completed purchases in Redis so fulfilled orders
// survive restarts for manual reconciliation. The store is optional: the bot
// runs without Redis, it just loses the durable receipt trail.
package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang/glog"
)

// Receipt is the durable record of one fulfilled purchase.
type Receipt struct {
	CustomerID  string    `json:"customer_id"`
	Service     string    `json:"service"`
	Number      string    `json:"number"`
	Code        string    `json:"code"`
	CompletedAt time.Time `json:"completed_at"`
}

// Store persists receipts in Redis.
type Store struct {
	client *redis.Client
	ctx    context.Context
}

// NewStore connects to Redis. Returns an error when the server is
// unreachable; callers may treat that as non-fatal and run without receipts.
func NewStore(host, port, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	glog.Infof("connected to Redis at %s:%s", host, port)
	return &Store{client: rdb, ctx: ctx}, nil
}

// Save writes one receipt under payment:receipt:<customer>:<service>. Safe
// to call on a nil store.
func (s *Store) Save(r Receipt) error {
	if s == nil {
		return nil
	}
	r.CompletedAt = time.Now()
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	key := fmt.Sprintf("payment:receipt:%s:%s", r.CustomerID, r.Service)
	if err := s.client.Set(s.ctx, key, string(data), 0).Err(); err != nil {
		return fmt.Errorf("failed to store receipt: %w", err)
	}
	glog.Infof("receipt stored with key %s", key)
	return nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}
