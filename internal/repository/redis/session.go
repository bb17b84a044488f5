package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vendasys/pos-service/internal/domain"
	apperrors "github.com/vendasys/pos-service/pkg/errors"
)

const keyPrefix = "pos:session:"

// saveIfVersionScript performs a compare-and-set on the session version:
// the key must either hold a session whose version matches ARGV[1], or not
// exist at all when ARGV[1] is 0. On success the new payload (ARGV[2], whose
// version field has already been bumped by the caller) is stored with the
// TTL in ARGV[3] milliseconds.
var saveIfVersionScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local expected = tonumber(ARGV[1])
if current == false then
  if expected ~= 0 then
    return 0
  end
else
  local decoded = cjson.decode(current)
  if tonumber(decoded['version']) ~= expected then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// SessionRepository implements repository.SessionRepository using Redis.
// Sessions are stored as JSON under one key per terminal with a sliding TTL.
type SessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionRepository creates a new Redis-backed session repository.
func NewSessionRepository(client *redis.Client, ttl time.Duration) *SessionRepository {
	return &SessionRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves the session for a terminal from Redis.
func (r *SessionRepository) Get(ctx context.Context, terminalID string) (*domain.Session, error) {
	key := keyPrefix + terminalID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("session", terminalID)
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &session, nil
}

// SaveIfVersion persists the session if the stored version matches
// expectedVersion, bumping the version by one. Returns false on a version
// conflict without modifying the stored session.
func (r *SessionRepository) SaveIfVersion(ctx context.Context, session *domain.Session, expectedVersion int) (bool, error) {
	key := keyPrefix + session.TerminalID

	session.Version = expectedVersion + 1

	data, err := json.Marshal(session)
	if err != nil {
		return false, fmt.Errorf("marshal session: %w", err)
	}

	res, err := saveIfVersionScript.Run(ctx, r.client, []string{key},
		expectedVersion, string(data), r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis save session: %w", err)
	}
	if res != 1 {
		// Restore so the caller's copy still reflects what it read.
		session.Version = expectedVersion
		return false, nil
	}

	return true, nil
}

// Delete removes the session for a terminal from Redis.
func (r *SessionRepository) Delete(ctx context.Context, terminalID string) error {
	key := keyPrefix + terminalID

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}

	return nil
}
