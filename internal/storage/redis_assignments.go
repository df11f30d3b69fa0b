package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radiusdt/vector-split/internal/models"
)

// RedisAssignmentRegistry implements AssignmentRegistry on Redis. The
// whole assign-if-absent decision runs inside one server-side script:
// the (user, experiment) SETNX is the compare-and-swap, the per-user
// marker SETNX freezes the new-visitor flag, and because Redis
// executes the script atomically no reader ever observes the winning
// row without its final is_new_visitor value.
type RedisAssignmentRegistry struct {
	client *redis.Client
}

// NewRedisAssignmentRegistry creates a Redis-backed registry.
func NewRedisAssignmentRegistry(client *redis.Client) *RedisAssignmentRegistry {
	return &RedisAssignmentRegistry{client: client}
}

func assignKey(userID, experimentID string) string {
	return fmt.Sprintf("split:assign:%s:%s", userID, experimentID)
}

func userSeenKey(userID string) string {
	return fmt.Sprintf("split:user-seen:%s", userID)
}

func userIndexKey(userID string) string {
	return fmt.Sprintf("split:user-assigns:%s", userID)
}

func experimentUsersKey(experimentID string) string {
	return fmt.Sprintf("split:exp-users:%s", experimentID)
}

// assignScript is the atomic assign-if-absent decision. KEYS:
// assignment, user-seen marker, per-user index, per-experiment index.
// ARGV: returning-visitor payload, new-visitor payload, experiment ID,
// user ID. Returns -1 when the CAS lost, 0 when it won for a returning
// visitor, 1 when it won for a new visitor.
var assignScript = redis.NewScript(`
local created = redis.call("SETNX", KEYS[1], ARGV[1])
if created == 0 then
	return -1
end
local first = redis.call("SETNX", KEYS[2], "1")
if first == 1 then
	redis.call("SET", KEYS[1], ARGV[2])
end
redis.call("SADD", KEYS[3], ARGV[3])
redis.call("SADD", KEYS[4], ARGV[4])
return first
`)

func (r *RedisAssignmentRegistry) AssignIfAbsent(ctx context.Context, userID, experimentID, variantID string, actx models.AssignmentContext) (*models.Assignment, bool, error) {
	method := actx.Method
	if method == "" {
		method = "hash"
	}

	a := &models.Assignment{
		UserID:           userID,
		ExperimentID:     experimentID,
		VariantID:        variantID,
		AssignedAt:       time.Now().UTC(),
		AssignmentMethod: method,
		UserAgent:        actx.UserAgent,
		DeviceType:       actx.DeviceType,
		Country:          actx.Country,
	}

	returning, err := json.Marshal(a)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode assignment: %w", err)
	}
	a.IsNewVisitor = true
	fresh, err := json.Marshal(a)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode assignment: %w", err)
	}

	keys := []string{
		assignKey(userID, experimentID),
		userSeenKey(userID),
		userIndexKey(userID),
		experimentUsersKey(experimentID),
	}
	outcome, err := assignScript.Run(ctx, r.client, keys, returning, fresh, experimentID, userID).Int64()
	if err != nil {
		return nil, false, fmt.Errorf("failed to store assignment: %w", err)
	}

	switch outcome {
	case 1:
		return a, true, nil
	case 0:
		a.IsNewVisitor = false
		return a, true, nil
	}

	existing, err := r.Get(ctx, userID, experimentID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("assignment vanished for user %s experiment %s", userID, experimentID)
	}
	return existing, false, nil
}

func (r *RedisAssignmentRegistry) Get(ctx context.Context, userID, experimentID string) (*models.Assignment, error) {
	payload, err := r.client.Get(ctx, assignKey(userID, experimentID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	var a models.Assignment
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("failed to decode assignment: %w", err)
	}
	return &a, nil
}

func (r *RedisAssignmentRegistry) HasAnyAssignment(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.Exists(ctx, userSeenKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return n > 0, nil
}

func (r *RedisAssignmentRegistry) CountByExperiment(ctx context.Context, experimentID string) (*models.AssignmentBreakdown, error) {
	userIDs, err := r.client.SMembers(ctx, experimentUsersKey(experimentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list experiment users: %w", err)
	}

	b := &models.AssignmentBreakdown{
		ByVariant: make(map[string]int64),
		ByDevice:  make(map[string]int64),
	}
	if len(userIDs) == 0 {
		return b, nil
	}

	pipe := r.client.Pipeline()
	gets := make([]*redis.StringCmd, len(userIDs))
	for i, userID := range userIDs {
		gets[i] = pipe.Get(ctx, assignKey(userID, experimentID))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read assignments: %w", err)
	}

	for _, get := range gets {
		payload, err := get.Bytes()
		if err == redis.Nil {
			// Purged after the index scan; skip.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read assignment: %w", err)
		}
		var a models.Assignment
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("failed to decode assignment: %w", err)
		}

		b.Total++
		b.ByVariant[a.VariantID]++
		device := a.DeviceType
		if device == "" {
			device = "unknown"
		}
		b.ByDevice[device]++
		if a.IsNewVisitor {
			b.NewVisitors++
		} else {
			b.ReturningVisitors++
		}
	}

	return b, nil
}

func (r *RedisAssignmentRegistry) PurgeUser(ctx context.Context, userID string) error {
	experimentIDs, err := r.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list user assignments: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, expID := range experimentIDs {
		pipe.Del(ctx, assignKey(userID, expID))
		pipe.SRem(ctx, experimentUsersKey(expID), userID)
	}
	pipe.Del(ctx, userIndexKey(userID), userSeenKey(userID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to purge assignments: %w", err)
	}
	return nil
}
