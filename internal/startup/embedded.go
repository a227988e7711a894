package startup

import (
	"fmt"
	"os"
	"path/filepath"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/creatif-sam/ambf-connect/internal/logger"
)

// EmbeddedPostgres: локальный Postgres для разработки и интеграционных тестов.
type EmbeddedPostgres struct {
	db  *embeddedpostgres.EmbeddedPostgres
	URL string
}

// StartEmbeddedPostgres запускает Postgres на port с данными в dataDir.
func StartEmbeddedPostgres(port uint32, dataDir string) (*EmbeddedPostgres, error) {
	const (
		user     = "connect"
		password = "connect_secret"
		database = "connect"
	)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}
	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), fmt.Sprintf("embedded-pg-runtime-%d", port))),
	)
	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("embedded postgres start: %w", err)
	}
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return &EmbeddedPostgres{
		db:  db,
		URL: fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database),
	}, nil
}

func (e *EmbeddedPostgres) Stop() error {
	logger.Info("stopping embedded postgres...")
	return e.db.Stop()
}
