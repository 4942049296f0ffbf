package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("ratelimit",
	fx.Provide(func(client *redis.Client) *TokenBucket { return NewTokenBucket(client) }),
	fx.Provide(NewLimiter),
)
