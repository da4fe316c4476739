package server

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/54b3r/patentrag/internal/rag"
)

// StorePinger probes a vector store through its Ping method.
type StorePinger struct {
	store rag.VectorStore
	name  string
}

// NewStorePinger constructs a StorePinger labelled name (e.g. "postgres").
func NewStorePinger(name string, store rag.VectorStore) *StorePinger {
	return &StorePinger{store: store, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return p.name }

// Ping delegates to the store.
func (p *StorePinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

// RedisPinger probes the embedding cache with PING.
type RedisPinger struct {
	client redis.Cmdable
}

// NewRedisPinger constructs a RedisPinger for client.
func NewRedisPinger(client redis.Cmdable) *RedisPinger {
	return &RedisPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *RedisPinger) Name() string { return "redis" }

// Ping sends PING and expects PONG.
func (p *RedisPinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
