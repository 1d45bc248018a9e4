package repository

import (
	"github.com/redis/go-redis/v9"
)

// ConnectRedis 创建 Redis 客户端
// 地址为空表示未启用，返回 nil，广播退化为单实例模式
func ConnectRedis(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}
