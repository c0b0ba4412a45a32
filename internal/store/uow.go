// Package store implements every repository behind a single SQLite
// database: conversations, messages (with full-text and trigram search),
// embeddings, the job queue, and process settings. A UnitOfWork binds one
// transaction; repositories are thin query objects scoped to it.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
)

// dbExecer is the subset of *dbutil.Database (and its transaction-bound
// context variant) every repository needs: schema creation and query
// helpers work the same whether or not a transaction is active.
type dbExecer interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenOption configures Open beyond its required path/log arguments.
type OpenOption func(*openOptions)

type openOptions struct {
	vectorConfig VectorConfig
}

// WithVectorConfig enables vec0-backed nearest-neighbour search for the
// database being opened, falling back to EmbeddingRepo.NearestBruteForce
// whenever the extension can't be loaded.
func WithVectorConfig(cfg VectorConfig) OpenOption {
	return func(o *openOptions) { o.vectorConfig = cfg }
}

// Open creates (or attaches to) a SQLite database at path and applies the
// schema. The returned *dbutil.Database is safe for concurrent use; SQLite
// serializes writers internally.
func Open(ctx context.Context, path string, log zerolog.Logger, opts ...OpenOption) (*dbutil.Database, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db, err := dbutil.NewWithDB(raw, "sqlite3")
	if err != nil {
		return nil, fmt.Errorf("wrap sqlite: %w", err)
	}

	if err := applySchema(ctx, db); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	registerVectorConfig(db, o.vectorConfig)
	log.Debug().Str("path", path).Bool("vector_enabled", o.vectorConfig.Enabled).Msg("opened sqlite database")
	return db, nil
}

// UnitOfWork scopes a set of repository calls to a single transaction,
// following the same acquire-commit-or-rollback contract as the database
// handle it wraps.
type UnitOfWork struct {
	Conversations *ConversationRepo
	Messages      *MessageRepo
	Embeddings    *EmbeddingRepo
	Jobs          *JobRepo
	Settings      *SettingsRepo
}

func newUnitOfWork(db *dbutil.Database) *UnitOfWork {
	state := vectorStateFor(db)
	return &UnitOfWork{
		Conversations: &ConversationRepo{db: db},
		Messages:      &MessageRepo{db: db},
		Embeddings: &EmbeddingRepo{
			db:        db,
			rawDB:     db.RawDB,
			vectorCfg: state.cfg,
			vectorExt: state.ext,
		},
		Jobs:     &JobRepo{db: db},
		Settings: &SettingsRepo{db: db},
	}
}

// NewUnitOfWork builds repositories bound directly to db, outside any
// transaction. Use WithTransaction for multi-step writes that must commit or
// roll back atomically.
func NewUnitOfWork(db *dbutil.Database) *UnitOfWork {
	return newUnitOfWork(db)
}

// WithTransaction runs fn inside a single transaction, committing on a nil
// return and rolling back otherwise.
func WithTransaction(ctx context.Context, db *dbutil.Database, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	return db.DoTxn(ctx, nil, func(txCtx context.Context) error {
		return fn(txCtx, newUnitOfWork(db))
	})
}
