package startup

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatif-sam/ambf-connect/migrations"
)

func TestRunMigrationsOrderAndSkipsEmpty(t *testing.T) {
	files := fstest.MapFS{
		"002_b.sql":  {Data: []byte("SELECT 2;")},
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"003_c.sql":  {Data: []byte("  \n")},
		"README.txt": {Data: []byte("ignored")},
	}
	var ran []string
	err := RunMigrations(context.Background(), func(_ context.Context, sql string) error {
		ran = append(ran, sql)
		return nil
	}, files)

	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 1;", "SELECT 2;"}, ran)
}

func TestRunMigrationsStopsOnError(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("bad")},
		"002_b.sql": {Data: []byte("SELECT 2;")},
	}
	calls := 0
	err := RunMigrations(context.Background(), func(context.Context, string) error {
		calls++
		return errors.New("syntax error")
	}, files)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_a.sql")
	assert.Equal(t, 1, calls)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	var names []string
	err := RunMigrations(context.Background(), func(_ context.Context, sql string) error {
		names = append(names, sql)
		return nil
	}, migrations.Files)

	require.NoError(t, err)
	require.Len(t, names, 4)
	assert.Contains(t, names[2], "pg_notify('messages_changes'")
}
