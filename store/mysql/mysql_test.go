package mysql_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pcp-engine/store/mysql"
	"github.com/warp/pcp-engine/store/storetest"
)

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("PCP_MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("PCP_MYSQL_TEST_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) storetest.Store {
		ctx := context.Background()
		store, err := mysql.New(ctx, dsn)
		require.NoError(t, err)
		require.NoError(t, store.Reset(ctx))
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestOptions_DSN(t *testing.T) {
	dsn := mysql.Options{
		Host: "db.local", Port: 3307, User: "pcp", Password: "s3cret", Database: "pcp",
	}.DSN()

	assert.Contains(t, dsn, "pcp:s3cret@tcp(db.local:3307)/pcp")
	assert.Contains(t, dsn, "clientFoundRows=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}
