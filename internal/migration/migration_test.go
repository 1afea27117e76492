package migration

import (
	"io/fs"
	"strings"
	"testing"

	sessiondomain "github.com/smallbiznis/vpnledger/internal/session/domain"
	"github.com/smallbiznis/vpnledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Positive(t, ups)
	assert.Equal(t, ups, downs)
}

func TestAutoMigrateEnforcesOneActiveSessionPerPair(t *testing.T) {
	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(conn))

	first := sessiondomain.Session{ID: 1, UserID: 1, ServerID: 10}
	require.NoError(t, conn.Create(&first).Error)

	second := sessiondomain.Session{ID: 2, UserID: 1, ServerID: 10}
	err = conn.Create(&second).Error
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err))

	ended := sessiondomain.Session{ID: 3, UserID: 1, ServerID: 10}
	now := first.StartedAt
	ended.EndedAt = &now
	require.NoError(t, conn.Create(&ended).Error)
}
