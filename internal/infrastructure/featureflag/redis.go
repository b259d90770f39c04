package featureflag

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// StringGetter is the slice of the redis client the provider needs
type StringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisProvider reads flags stored as "<prefix><flag>" string keys holding a
// boolean. Missing keys fall back to the defaults.
type RedisProvider struct {
	client   StringGetter
	prefix   string
	defaults map[string]bool
	logger   Logger
}

// NewRedisProvider creates a provider over client
func NewRedisProvider(client StringGetter, prefix string, defaults map[string]bool, logger Logger) *RedisProvider {
	return &RedisProvider{client: client, prefix: prefix, defaults: defaults, logger: logger}
}

// IsEnabled looks the flag up; errors and unparsable values are read as off
func (p *RedisProvider) IsEnabled(ctx context.Context, flag string) bool {
	val, err := p.client.Get(ctx, p.prefix+flag).Result()
	if errors.Is(err, redis.Nil) {
		return p.defaults[flag]
	}
	if err != nil {
		p.logError("Feature flag lookup failed", flag, err)
		return false
	}

	enabled, err := strconv.ParseBool(val)
	if err != nil {
		p.logError("Feature flag value is not a boolean", flag, err)
		return false
	}
	return enabled
}

func (p *RedisProvider) logError(msg, flag string, err error) {
	if p.logger != nil {
		p.logger.Error(msg, "flag", flag, "error", err)
	}
}
