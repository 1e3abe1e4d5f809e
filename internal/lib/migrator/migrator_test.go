package migrator

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func TestDatabaseURL(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dsn     string
		want    string
		wantErr bool
	}{
		{name: "sqlite path", driver: DriverSQLite, dsn: "./storage/admissions.db", want: "sqlite3://./storage/admissions.db"},
		{name: "sqlite file uri", driver: DriverSQLite, dsn: "file:/tmp/a.db", want: "sqlite3:///tmp/a.db"},
		{name: "postgres", driver: DriverPostgres, dsn: "postgres://u:p@localhost:5432/uap", want: "pgx5://u:p@localhost:5432/uap"},
		{name: "postgresql", driver: DriverPostgres, dsn: "postgresql://u:p@localhost/uap", want: "pgx5://u:p@localhost/uap"},
		{name: "postgres without scheme", driver: DriverPostgres, dsn: "host=localhost", wantErr: true},
		{name: "unknown driver", driver: "oracle", dsn: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DatabaseURL(tt.driver, tt.dsn)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownDriver)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")

	require.NoError(t, Up(DriverSQLite, path))
	// second run is a no-op
	require.NoError(t, Up(DriverSQLite, path))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"users", "institutions", "applications", "revoked_tokens"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	require.NoError(t, Down(DriverSQLite, path))
}
