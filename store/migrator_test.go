package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMigrations_SemverOrder(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			migrations, err := ListMigrations(driver)
			require.NoError(t, err)
			require.Len(t, migrations, 3)
			assert.Equal(t, "v0.1.0", migrations[0].Version)
			assert.Equal(t, "v0.2.0", migrations[1].Version)
			assert.Equal(t, "v0.3.0", migrations[2].Version)
		})
	}

	_, err := ListMigrations("mysql")
	assert.Error(t, err)
}

func TestVersionOfMigrationFile(t *testing.T) {
	v, err := versionOfMigrationFile("v0.10.0__add_index.sql")
	require.NoError(t, err)
	assert.Equal(t, "v0.10.0", v)

	_, err = versionOfMigrationFile("01__init.sql")
	assert.Error(t, err)

	_, err = versionOfMigrationFile("init.sql")
	assert.Error(t, err)
}

func TestSplitSQL(t *testing.T) {
	script := `-- comment
CREATE TABLE a (
  id INTEGER
);

CREATE INDEX idx_a ON a (id);
`
	stmts := splitSQL(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE INDEX idx_a ON a (id)", stmts[1])
}
