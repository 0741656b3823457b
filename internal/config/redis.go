package config

import (
    "context"
    "crypto/tls"
    "fmt"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig holds the connection parameters of the Redis server used for
// the per-customer reservation lock and for rate limiting.
type RedisConfig struct {
    Addr     string
    Password string
    DB       int
    TLS      bool
}

// LoadRedisConfig reads REDIS_HOST/REDIS_PORT or REDIS_ADDR (host and port
// win when both are set), REDIS_PASSWORD, REDIS_DB and REDIS_TLS.  It
// reports false when none of the address variables are set.
func LoadRedisConfig() (RedisConfig, bool) {
    host := os.Getenv("REDIS_HOST")
    port := os.Getenv("REDIS_PORT")
    addr := os.Getenv("REDIS_ADDR")
    if host != "" && port != "" {
        addr = host + ":" + port
    }
    cfg := RedisConfig{
        Addr:     addr,
        Password: os.Getenv("REDIS_PASSWORD"),
        TLS:      strings.EqualFold(os.Getenv("REDIS_TLS"), "true") || os.Getenv("REDIS_TLS") == "1",
    }
    if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
        cfg.DB = n
    }
    return cfg, addr != ""
}

// NewRedisClient connects to Redis and pings it with a short timeout.  On
// failure the client is closed and the error returned; callers fall back
// to the in-process lock and run without rate limiting.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
    var tlsConf *tls.Config
    if cfg.TLS {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      cfg.Addr,
        Password:  cfg.Password,
        DB:        cfg.DB,
        TLSConfig: tlsConf,
    })
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
    }
    return client, nil
}
