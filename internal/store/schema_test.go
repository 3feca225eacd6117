package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eggtrack/eggtrack/internal/config"
)

// The store layer and schema.sql are maintained by hand; these checks catch
// a column or table referenced on one side but missing on the other.

func loadSchema(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "schema.sql"))
	require.NoError(t, err)
	return string(data)
}

func tableDDL(t *testing.T, schema, table string) string {
	t.Helper()
	re := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS ` + table + ` \((.*?)\);`)
	m := re.FindStringSubmatch(schema)
	require.NotNil(t, m, "schema.sql defines table %s", table)
	return m[1]
}

func TestSchemaDefinesEveryTable(t *testing.T) {
	schema := loadSchema(t)
	for _, table := range []string{
		config.SnapshotsTable,
		config.SnapshotMetaTable,
		config.EggDayGainsTable,
		config.CacheTable,
		config.CacheMetaTable,
		config.ExclusionsTable,
		config.SaveMetaTable,
		config.EmailLogTable,
		config.DeletionAuditTable,
	} {
		tableDDL(t, schema, table)
	}
}

func TestSchemaExclusionsColumnsMatchUpsert(t *testing.T) {
	ddl := tableDDL(t, loadSchema(t), config.ExclusionsTable)

	// Columns named by AddExclusion's INSERT ... ON CONFLICT DO UPDATE.
	for _, col := range []string{"id", "reason", "updated_at"} {
		assert.Contains(t, ddl, col)
	}
}
