package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// OpenDatabase opens a bun handle for the given DSN. postgres:// and
// postgresql:// URLs use pgx, anything else is handed to sqlite.
// The caller owns the handle and must Close it.
func OpenDatabase(ctx context.Context, dsn string) (*bun.DB, error) {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	var db *bun.DB
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, storageError(err, "failed to open postgres database")
		}
		sqldb.SetMaxOpenConns(10)
		sqldb.SetConnMaxIdleTime(5 * time.Minute)
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, storageError(err, "failed to open sqlite database")
		}
		// sqlite serializes writers, a single connection avoids SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "database unreachable").
			WithTextCode(TextCodeStorageUnavailable).
			WithCode(goerrors.CodeInternal)
	}

	return db, nil
}
