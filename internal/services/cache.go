package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/fpl-optimizer/internal/models"
	"github.com/stitts-dev/fpl-optimizer/internal/optimizer"
)

// SquadCache stores optimized squads in redis keyed by their inputs. A nil
// *SquadCache is a valid, always-missing cache.
type SquadCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

func NewSquadCache(client *redis.Client, ttl time.Duration, logger *logrus.Entry) *SquadCache {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SquadCache{client: client, ttl: ttl, logger: logger.WithField("component", "squad_cache")}
}

// SquadKey derives squad:{season}:{gameweek}:{hash} from everything the
// optimizer result depends on. req is nil for a fresh selection.
func SquadKey(p models.PlayerPool, rules optimizer.Rules, req *models.TransferRequest) (string, error) {
	payload, err := json.Marshal(struct {
		Players []models.Player         `json:"players"`
		Rules   optimizer.Rules         `json:"rules"`
		Request *models.TransferRequest `json:"request,omitempty"`
	}{p.Players, rules, req})
	if err != nil {
		return "", fmt.Errorf("failed to hash squad inputs: %w", err)
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("squad:%d:%d:%s", p.Season, p.Gameweek, hex.EncodeToString(sum[:12])), nil
}

// Get returns the cached squad, or ok=false on a miss.
func (c *SquadCache) Get(ctx context.Context, key string) (*models.Squad, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get squad from cache: %w", err)
	}

	var squad models.Squad
	if err := json.Unmarshal(data, &squad); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached squad: %w", err)
	}

	c.logger.WithField("cache_key", key).Debug("Retrieved squad from cache")
	return &squad, true, nil
}

func (c *SquadCache) Set(ctx context.Context, key string, squad *models.Squad) error {
	if c == nil || c.client == nil {
		return nil
	}

	data, err := json.Marshal(squad)
	if err != nil {
		return fmt.Errorf("failed to marshal squad: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set squad in cache: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"cache_key":  key,
		"expiration": c.ttl,
	}).Debug("Cached squad")
	return nil
}

// Ping reports whether redis is reachable.
func (c *SquadCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("cache not configured")
	}
	return c.client.Ping(ctx).Err()
}
