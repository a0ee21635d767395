package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTL 计数加一，只在键首次出现时设置过期时间，两条命令在同一事务中执行。
func incrWithTTL(ctx context.Context, client redis.Cmdable, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// consumeOnce 取出并删除一次性令牌，并发请求中只有一个能拿到值。
func consumeOnce(ctx context.Context, client redis.Cmdable, key string) (string, error) {
	return client.GetDel(ctx, key).Result()
}
