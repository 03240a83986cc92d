package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/cache"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	"go.uber.org/fx"
)

var ErrInvalidSession = errors.New("invalid_session")

const (
	keyPrefix  = "session:"
	tokenBytes = 32
)

// Session is what a login token resolves to. Roles are not cached here;
// authorization reads them from the user record on every check.
type Session struct {
	UserID    snowflake.ID `json:"user_id"`
	Email     string       `json:"email"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type StoreParams struct {
	fx.In

	Redis  redis.UniversalClient
	Clock  clock.Clock
	Config config.Config
}

// Store keeps sessions in Redis keyed by the SHA-256 of the raw token.
type Store struct {
	entries *cache.RedisJSON[Session]
	clock   clock.Clock
	ttl     time.Duration
}

func NewStore(p StoreParams) *Store {
	ttl := p.Config.Auth.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		entries: cache.NewRedisJSON[Session](p.Redis, keyPrefix, ttl),
		clock:   p.Clock,
		ttl:     ttl,
	}
}

// Create returns the raw token; only its hash is stored.
func (s *Store) Create(ctx context.Context, userID snowflake.ID, email string) (string, Session, error) {
	raw, err := newToken()
	if err != nil {
		return "", Session{}, err
	}
	now := s.clock.Now().UTC()
	sess := Session{
		UserID:    userID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.entries.Set(ctx, hashToken(raw), sess); err != nil {
		return "", Session{}, err
	}
	return raw, sess, nil
}

func (s *Store) Lookup(ctx context.Context, raw string) (*Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidSession
	}
	sess, ok, err := s.entries.Get(ctx, hashToken(raw))
	if err != nil {
		return nil, err
	}
	if !ok || sess.UserID == 0 || !s.clock.Now().Before(sess.ExpiresAt) {
		return nil, ErrInvalidSession
	}
	return &sess, nil
}

func (s *Store) Revoke(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrInvalidSession
	}
	return s.entries.Delete(ctx, hashToken(raw))
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
