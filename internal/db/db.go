package db

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tanmaysingewar/betterindex/internal/logger"
)

// Connect opens the MySQL connection pool and pings it.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Fatalf("db open: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		logger.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		logger.Fatalf("db ping: %v", err)
	}
	return gdb
}

// ConnectRedis builds a redis client and verifies the connection.
func ConnectRedis(addr, password string, dbNum int) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbNum,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatalf("redis ping: %v", err)
	}
	return rdb
}
