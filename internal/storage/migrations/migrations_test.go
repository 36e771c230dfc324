package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	sql := `-- first table
CREATE TABLE a (x String) ENGINE = Memory;

-- second table
CREATE TABLE b (y String DEFAULT 'it''s') ENGINE = Memory;
`
	stmts, err := SplitStatements(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x String) ENGINE = Memory", stmts[0])
	assert.Contains(t, stmts[1], "'it''s'")
}

func TestSplitStatements_RejectsSemicolonInLiteral(t *testing.T) {
	_, err := SplitStatements("SELECT 'a;b';")
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, dir := range []string{"postgres", "clickhouse"} {
		fsys := PostgresFS
		if dir == "clickhouse" {
			fsys = ClickhouseFS
		}
		files, err := sqlFiles(fsys, dir)
		require.NoError(t, err)
		require.Len(t, files, 2, dir)
		assert.Equal(t, "001", files[0].name[:3])

		for _, f := range files {
			stmts, err := SplitStatements(f.sql)
			require.NoError(t, err, f.name)
			assert.NotEmpty(t, stmts, f.name)
		}
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/guard")
	require.NoError(t, err)
	assert.Equal(t, "guard", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
