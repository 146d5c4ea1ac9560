package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ashwinyue/next-chat/internal/config"
	"github.com/ashwinyue/next-chat/internal/model"
)

func sqliteConfig(path string) *config.Config {
	return &config.Config{Database: config.DatabaseConfig{Driver: "sqlite", Path: path}}
}

func TestNewSQLite(t *testing.T) {
	db, err := New(sqliteConfig(filepath.Join(t.TempDir(), "chat.db")), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Ping(context.Background()))
	for _, m := range model.AllModels {
		assert.True(t, db.Migrator().HasTable(m))
	}
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New(&config.Config{Database: config.DatabaseConfig{Driver: "mysql"}}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestDialectorFor(t *testing.T) {
	d, err := dialectorFor(&config.DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = dialectorFor(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
}
