// Package testhelpers provides shared containers for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// PostgresImage is the PostgreSQL image used for executor tests.
	PostgresImage = "postgres:16-alpine"

	// RedisImage is the Redis image used for coordination tests.
	RedisImage = "redis:7-alpine"
)

// FixtureSchema is loaded into the shared PostgreSQL database. It covers
// plain tables, a scalar function, a set-returning function and a procedure
// with OUT and refcursor parameters.
const FixtureSchema = `
CREATE TABLE IF NOT EXISTS car (
	id SERIAL PRIMARY KEY,
	make TEXT NOT NULL,
	model TEXT NOT NULL,
	mpg INTEGER,
	price NUMERIC(10,2)
);

TRUNCATE car RESTART IDENTITY;
INSERT INTO car (make, model, mpg, price) VALUES
	('Saab', '9-3', 28, 21000.50),
	('Volvo', 'V70', 24, 30500.00),
	('Saab', '9-5', 22, 27999.99);

CREATE OR REPLACE FUNCTION car_count(p_make TEXT) RETURNS INTEGER AS $$
	SELECT COUNT(*)::INTEGER FROM car WHERE make = p_make;
$$ LANGUAGE sql;

CREATE OR REPLACE FUNCTION cars_by_make(p_make TEXT) RETURNS SETOF car AS $$
	SELECT * FROM car WHERE make = p_make ORDER BY id;
$$ LANGUAGE sql;

CREATE OR REPLACE PROCEDURE car_report(p_make TEXT, INOUT total INTEGER, INOUT cars REFCURSOR) AS $$
BEGIN
	SELECT COUNT(*) INTO total FROM car WHERE make = p_make;
	OPEN cars FOR SELECT id, model FROM car WHERE make = p_make ORDER BY id;
END;
$$ LANGUAGE plpgsql;
`

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
	Host      string
	Port      int
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
// Call ResetFixtures to restore the car table between tests that write.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

// ResetFixtures reloads FixtureSchema.
func (db *TestDB) ResetFixtures(t *testing.T) {
	t.Helper()
	if _, err := db.Pool.Exec(context.Background(), FixtureSchema); err != nil {
		t.Fatalf("Failed to load fixtures: %v", err)
	}
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "test_data",
			"POSTGRES_USER":     "sqlrest",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://sqlrest:test_password@%s:%s/test_data?sslmode=disable",
		host, port.Port())

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if _, err := pool.Exec(ctx, FixtureSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to load fixtures: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
		Host:      host,
		Port:      port.Int(),
	}, nil
}

// TestRedis holds a shared Redis container and client.
type TestRedis struct {
	Container testcontainers.Container
	Client    *redis.Client
	Addr      string
}

var (
	sharedTestRedis     *TestRedis
	sharedTestRedisOnce sync.Once
	sharedTestRedisErr  error
)

// GetTestRedis returns a shared Redis container for integration tests.
func GetTestRedis(t *testing.T) *TestRedis {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestRedisOnce.Do(func() {
		sharedTestRedis, sharedTestRedisErr = setupTestRedis()
	})

	if sharedTestRedisErr != nil {
		t.Fatalf("Failed to setup test redis: %v", sharedTestRedisErr)
	}

	return sharedTestRedis
}

func setupTestRedis() (*TestRedis, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &TestRedis{Container: container, Client: client, Addr: endpoint}, nil
}
