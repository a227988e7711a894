package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/migrations"
)

// RunMigrations выполняет все *.sql из files в лексикографическом порядке.
// Скрипты идемпотентны (IF NOT EXISTS / OR REPLACE), поэтому прогоняются при каждом старте.
func RunMigrations(ctx context.Context, exec func(ctx context.Context, sql string) error, files fs.FS) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if err := exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
		logger.Debugf("migration %s applied", name)
	}
	logger.Infof("migrations applied: %d", len(names))
	return nil
}

// MigratePool прогоняет встроенные миграции на пуле.
func MigratePool(ctx context.Context, pool *pgxpool.Pool) error {
	return RunMigrations(ctx, func(ctx context.Context, sql string) error {
		_, err := pool.Exec(ctx, sql)
		return err
	}, migrations.Files)
}
