package testutil

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/topicindex/internal/db"
	"github.com/tOgg1/topicindex/internal/logging"
	"github.com/tOgg1/topicindex/internal/models"
)

// OpenDB returns a migrated in-memory database closed at test cleanup.
func OpenDB(t testing.TB) *db.DB {
	t.Helper()

	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	_, err = database.MigrateUp(context.Background())
	require.NoError(t, err)
	return database
}

// MessageRepo returns a repository over a fresh database seeded with msgs.
func MessageRepo(t testing.TB, msgs ...models.Message) *db.MessageRepository {
	t.Helper()

	repo := db.NewMessageRepository(OpenDB(t))
	require.NoError(t, repo.Insert(context.Background(), msgs...))
	return repo
}

// QuietLogs silences the global logger for the rest of the test.
func QuietLogs(t testing.TB) {
	t.Helper()

	prev := logging.Logger
	logging.Logger = zerolog.Nop()
	t.Cleanup(func() { logging.Logger = prev })
}
