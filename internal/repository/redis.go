package repository

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/config"
	"github.com/redis/go-redis/v9"
)

// GETDEL, на котором держится однократное чтение, появился в Redis 6.2
const (
	minRedisMajor = 6
	minRedisMinor = 2
)

type RedisDB struct {
	Client *redis.Client
}

// NewRedisClient подключается к Redis и проверяет, что сервер умеет GETDEL
func NewRedisClient(cfg config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     100,
		MinIdleConns: 10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	info, err := client.Info(ctx, "server").Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to read Redis server info: %w", err)
	}
	if err := checkRedisVersion(info); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisDB{Client: client}, nil
}

// checkRedisVersion разбирает redis_version из вывода INFO server
func checkRedisVersion(info string) error {
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		version, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "redis_version:")
		if !ok {
			continue
		}

		parts := strings.SplitN(version, ".", 3)
		if len(parts) < 2 {
			return fmt.Errorf("malformed Redis version %q", version)
		}
		major, errMajor := strconv.Atoi(parts[0])
		minor, errMinor := strconv.Atoi(parts[1])
		if errMajor != nil || errMinor != nil {
			return fmt.Errorf("malformed Redis version %q", version)
		}

		if major < minRedisMajor || (major == minRedisMajor && minor < minRedisMinor) {
			return fmt.Errorf("redis %s is too old, %d.%d+ required", version, minRedisMajor, minRedisMinor)
		}
		return nil
	}
	return fmt.Errorf("redis_version not found in server info")
}

func (db *RedisDB) Close() error {
	return db.Client.Close()
}
