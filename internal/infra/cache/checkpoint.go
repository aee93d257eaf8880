// Package cache keeps ledger checkpoints in redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mt5_copier/internal/ledger"

	redis "github.com/redis/go-redis/v9"
)

// Options configures the redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Checkpointer stores the ledger as one JSON document under a key.
type Checkpointer struct {
	client *redis.Client
	key    string
}

// NewClient builds a redis client from opt.
func NewClient(opt Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})
}

// NewCheckpointer wraps an existing client.
func NewCheckpointer(client *redis.Client, key string) *Checkpointer {
	return &Checkpointer{client: client, key: key}
}

// Ping checks the connection.
func (c *Checkpointer) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING: %w", err)
	}
	return nil
}

// Save overwrites the checkpoint.
func (c *Checkpointer) Save(ctx context.Context, st ledger.State) error {
	if c.key == "" {
		return fmt.Errorf("checkpoint key is not configured")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal ledger state: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", c.key, err)
	}
	return nil
}

// Load returns the stored checkpoint, or an empty state when none exists.
func (c *Checkpointer) Load(ctx context.Context) (ledger.State, error) {
	if c.key == "" {
		return ledger.State{}, fmt.Errorf("checkpoint key is not configured")
	}
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.State{}, nil
	}
	if err != nil {
		return ledger.State{}, fmt.Errorf("redis GET %s: %w", c.key, err)
	}
	var st ledger.State
	if err := json.Unmarshal(data, &st); err != nil {
		return ledger.State{}, fmt.Errorf("unmarshal ledger state: %w", err)
	}
	return st, nil
}

// Close closes the underlying client.
func (c *Checkpointer) Close() error {
	return c.client.Close()
}
