package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	id "namereg/pkg/domain"
)

const (
	recordKeyPrefix = "addrreg:rec:"
	ownerKey        = "addrreg:owner"
)

// Redis persists the address mapping in Redis. Each record is a plain string
// value under its hash key; the empty string stays the absence sentinel so
// the Get contract matches the in-memory store exactly.
type Redis struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// EnsureOwner seeds the owner key on first start without overwriting a
// transferred ownership.
func (s *Redis) EnsureOwner(ctx context.Context, owner id.Identity) error {
	if err := s.client.SetNX(ctx, ownerKey, owner.String(), 0).Err(); err != nil {
		return fmt.Errorf("seed registry owner: %w", err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, h id.NameHash) (string, error) {
	addr, err := s.client.Get(ctx, recordKeyPrefix+h.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get address record: %w", err)
	}
	return addr, nil
}

func (s *Redis) Set(ctx context.Context, h id.NameHash, addr string) error {
	if err := s.client.Set(ctx, recordKeyPrefix+h.String(), addr, 0).Err(); err != nil {
		return fmt.Errorf("set address record: %w", err)
	}
	return nil
}

func (s *Redis) Owner(ctx context.Context) (id.Identity, error) {
	raw, err := s.client.Get(ctx, ownerKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return id.Identity{}, nil
		}
		return id.Identity{}, fmt.Errorf("load registry owner: %w", err)
	}
	owner, err := id.ParseIdentity(raw)
	if err != nil {
		return id.Identity{}, fmt.Errorf("parse registry owner: %w", err)
	}
	return owner, nil
}

func (s *Redis) SetOwner(ctx context.Context, owner id.Identity) error {
	if err := s.client.Set(ctx, ownerKey, owner.String(), 0).Err(); err != nil {
		return fmt.Errorf("set registry owner: %w", err)
	}
	return nil
}
