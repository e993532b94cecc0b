package migrate

import (
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/migrations"
)

func TestEmbeddedMigrationsAreCollected(t *testing.T) {
	goose.SetBaseFS(migrations.FS)
	t.Cleanup(func() { goose.SetBaseFS(nil) })

	ms, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	require.Equal(t, int64(1), ms[0].Version)
}
