// Package auth supplies the bearer token used by the REST client and the push
// channel. The session itself is managed elsewhere; this package only reads it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/libranotify/internal/domain/errs"
)

// TokenSource returns the current bearer token.
// An empty token with errs.ErrNoToken means the user is not signed in.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	return normalizeToken(string(s))
}

// EnvTokenSource reads the token from an environment variable on every call,
// so rotating the variable is picked up by the next connection attempt.
type EnvTokenSource struct {
	Variable string
}

// Token implements TokenSource.
func (s EnvTokenSource) Token(context.Context) (string, error) {
	return normalizeToken(os.Getenv(s.Variable))
}

// KeyringConfig configures KeyringTokenSource.
type KeyringConfig struct {
	ServiceName  string
	Key          string
	FileDir      string
	FilePassword string
}

// KeyringTokenSource reads the token from the system keyring.
type KeyringTokenSource struct {
	ring keyring.Keyring
	key  string
}

// NewKeyringTokenSource opens the keyring described by cfg.
func NewKeyringTokenSource(cfg KeyringConfig) (*KeyringTokenSource, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: cfg.ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringTokenSourceFrom(ring, cfg.Key), nil
}

// NewKeyringTokenSourceFrom wraps an already opened keyring.
func NewKeyringTokenSourceFrom(ring keyring.Keyring, key string) *KeyringTokenSource {
	return &KeyringTokenSource{ring: ring, key: key}
}

// Token implements TokenSource.
func (s *KeyringTokenSource) Token(context.Context) (string, error) {
	item, err := s.ring.Get(s.key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", errs.ErrNoToken
		}
		return "", fmt.Errorf("getting credential %q: %w", s.key, err)
	}
	return normalizeToken(string(item.Data))
}

// Store saves a token under the configured key.
func (s *KeyringTokenSource) Store(token string) error {
	if err := s.ring.Set(keyring.Item{Key: s.key, Data: []byte(token)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", s.key, err)
	}
	return nil
}

const defaultRedisKeyPrefix = "auth:access_token:"

// RedisTokenSourceConfig contains configuration for RedisTokenSource.
type RedisTokenSourceConfig struct {
	Client    *redis.Client
	KeyPrefix string
	Subject   string
}

// RedisTokenSource reads the access token the session manager keeps in Redis.
type RedisTokenSource struct {
	client *redis.Client
	key    string
}

// NewRedisTokenSource creates a Redis-backed token source.
func NewRedisTokenSource(cfg RedisTokenSourceConfig) *RedisTokenSource {
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}

	return &RedisTokenSource{
		client: cfg.Client,
		key:    keyPrefix + cfg.Subject,
	}
}

// Key returns the Redis key the token is read from.
func (s *RedisTokenSource) Key() string {
	return s.key
}

// Token implements TokenSource.
func (s *RedisTokenSource) Token(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", errs.ErrNoToken
		}
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	return normalizeToken(token)
}

// normalizeToken trims whitespace and an optional "Bearer " prefix.
func normalizeToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if len(token) > len("bearer ") && strings.EqualFold(token[:len("bearer ")], "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}
	if token == "" {
		return "", errs.ErrNoToken
	}
	return token, nil
}
