//go:build integration

// Package testenv starts throwaway MySQL and Redis containers for the
// integration tests.  Run them with:
//
//	go test -tags integration ./...
package testenv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/iliyamo/library-reservation/internal/database"
)

const startTimeout = 3 * time.Minute

// MySQL is a migrated database in a container.
type MySQL struct {
	C  *tcmysql.MySQLContainer
	DB *sql.DB
}

// StartMySQL runs mysql:8.0, applies every migration and returns an open
// pool.
func StartMySQL(ctx context.Context) (*MySQL, error) {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	c, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("library"),
		tcmysql.WithUsername("library"),
		tcmysql.WithPassword("library"),
	)
	if err != nil {
		return nil, fmt.Errorf("start mysql: %w", err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, err
	}
	port, err := c.MappedPort(ctx, "3306/tcp")
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, err
	}
	db, err := database.Open("library", "library", host, port.Port(), "library")
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, err
	}
	if err := database.Migrate(db, "up"); err != nil {
		_ = db.Close()
		_ = c.Terminate(context.Background())
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &MySQL{C: c, DB: db}, nil
}

// Truncate empties every table so each test starts from a clean schema.
func (m *MySQL) Truncate(ctx context.Context) error {
	for _, table := range []string{"reservations", "books", "genres", "refresh_tokens", "users"} {
		if _, err := m.DB.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

func (m *MySQL) Teardown(ctx context.Context) {
	_ = m.DB.Close()
	_ = m.C.Terminate(ctx)
}

// Redis is a redis server in a container.
type Redis struct {
	C      *tcredis.RedisContainer
	Client *redis.Client
}

// StartRedis runs redis:7 and returns a connected client.
func StartRedis(ctx context.Context) (*Redis, error) {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	c, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("start redis: %w", err)
	}
	uri, err := c.ConnectionString(ctx)
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, err
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		_ = c.Terminate(context.Background())
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = c.Terminate(context.Background())
		return nil, err
	}
	return &Redis{C: c, Client: client}, nil
}

func (r *Redis) Teardown(ctx context.Context) {
	_ = r.Client.Close()
	_ = r.C.Terminate(ctx)
}
