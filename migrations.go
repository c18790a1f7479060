package natours

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
)

// Dialect names understood by RunMigrations
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package globals
var migrateMu sync.Mutex

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// RunMigrations applies every pending migration for dialect
func RunMigrations(ctx context.Context, db *sql.DB, dialect string) error {
	gooseDialect, err := gooseDialectFor(dialect)
	if err != nil {
		return err
	}

	sub, err := fs.Sub(migrationsFS, "data/sql/migrations/"+dialect)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open migrations")
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(sub)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(gooseDialect); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set migration dialect")
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run migrations").
			WithMetadata(map[string]any{"dialect": dialect})
	}

	return nil
}

func gooseDialectFor(dialect string) (string, error) {
	switch dialect {
	case DialectSQLite:
		return "sqlite3", nil
	case DialectPostgres:
		return "postgres", nil
	default:
		return "", goerrors.New(fmt.Sprintf("unsupported database dialect %q", dialect), goerrors.CategoryBadInput)
	}
}
