package database_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/bigkaa/goartstore/site-host/internal/database"
	"github.com/bigkaa/goartstore/site-host/internal/database/dbtest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestConnectAndMigrate проверяет подключение, повторное применение миграций
// и проверку готовности.
func TestConnectAndMigrate(t *testing.T) {
	cfg := dbtest.StartPostgres(t)
	ctx := context.Background()

	pool, err := database.Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pool.Close()

	if err := database.Migrate(cfg, testLogger()); err != nil {
		t.Fatalf("повторный Migrate должен быть no-op: %v", err)
	}

	var exists bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'content_records')`,
	).Scan(&exists)
	if err != nil || !exists {
		t.Fatalf("таблица content_records не создана: %v", err)
	}

	status, msg := database.NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady: %s (%s)", status, msg)
	}
}
