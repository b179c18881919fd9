package jobs

import (
	"github.com/hibiken/asynq"

	"github.com/groupspend/groupspend/internal/platform/cache"
)

// RedisOpt builds asynq connection options from the same address format the
// cache accepts, so REDIS_ADDR may be host:port or a redis:// URL.
func RedisOpt(addr string) (asynq.RedisClientOpt, error) {
	opts, err := cache.ParseAddr(addr)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:        opts.Addr,
		Username:    opts.Username,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		TLSConfig:   opts.TLSConfig,
	}, nil
}
