package testing

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/neurondb/NeuronGateway/internal/db"
)

/* TestDB holds test database connection */
type TestDB struct {
	DB      *sql.DB
	Queries *db.Queries
}

/* SetupTestDB connects to the test database and applies the schema. The test is skipped
 * when Postgres is not reachable. */
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "neurongateway"),
		getEnv("TEST_DB_PASSWORD", "neurongateway"),
		getEnv("TEST_DB_NAME", "neurongateway_test"),
	)

	testDB, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := testDB.PingContext(ctx); err != nil {
		testDB.Close()
		t.Skipf("Postgres not available: %v", err)
	}

	queries := db.NewQueries(testDB)
	if err := queries.EnsureSchema(ctx); err != nil {
		testDB.Close()
		t.Fatalf("Failed to apply schema: %v", err)
	}

	tdb := &TestDB{DB: testDB, Queries: queries}
	t.Cleanup(func() { tdb.cleanup(t) })
	return tdb
}

/* cleanup truncates gateway tables and closes the pool */
func (tdb *TestDB) cleanup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, table := range []string{"api_keys", "sessions", "users"} {
		if _, err := tdb.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			t.Logf("Warning: Failed to truncate %s: %v", table, err)
		}
	}
	tdb.DB.Close()
}

/* CreateTestUser creates a user row */
func CreateTestUser(ctx context.Context, queries *db.Queries, id string) (*db.User, error) {
	user := &db.User{ID: id, DisplayName: "Test " + id}
	if _, err := queries.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
