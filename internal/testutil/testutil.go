package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

const (
	envFile        = ".env.test"
	maxSearchDepth = 5
)

// RequireDatabase returns the Postgres DSN for integration tests and skips the test when none
// is configured. DATABASE_URL wins; otherwise TEST_DATABASE_URL from the nearest .env.test is
// exported as DATABASE_URL for the duration of the test.
func RequireDatabase(t *testing.T) string {
	t.Helper()

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	path := findUp(envFile)
	if path == "" {
		t.Skip("DATABASE_URL not set and no .env.test found, skipping integration test")
	}

	vars, err := godotenv.Read(path)
	if err != nil {
		t.Skipf("cannot read %s: %v", path, err)
	}

	dsn := vars["TEST_DATABASE_URL"]
	if dsn == "" {
		t.Skipf("TEST_DATABASE_URL missing from %s, skipping integration test", path)
	}

	t.Setenv("DATABASE_URL", dsn)
	return dsn
}

// findUp looks for name in the working directory and its parents
func findUp(name string) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for range maxSearchDepth {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
