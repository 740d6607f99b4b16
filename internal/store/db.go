package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/matheus3301/chatsync/internal/bus"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every read and write the store supports. It is embedded by
// both DB (auto-commit) and Tx (inside a transaction) so the same method set
// runs in either scope.
type Queries struct {
	q    querier
	emit func(kind string, payload any)
}

// DB wraps a SQLite database connection for the session's cache database.
type DB struct {
	*sql.DB
	Queries
	bus *bus.Bus
}

// Tx is a store transaction. Change notifications raised inside it are
// delivered only after a successful commit.
type Tx struct {
	Queries
	pending []bus.Event
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Transactions take the write lock at BEGIN so read-merge-write sequences
// never fail on lock upgrade. b receives change notifications and may be nil.
func Open(path string, b *bus.Bus) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db := &DB{DB: sqlDB, bus: b}
	db.Queries = Queries{q: sqlDB, emit: b.Emit}
	return db, nil
}

// InTx runs fn inside a transaction. fn's error rolls the transaction back
// and is returned unchanged. A panic in fn rolls back and re-panics.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{}
	tx.Queries = Queries{q: sqlTx, emit: tx.queue}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, evt := range tx.pending {
		db.bus.Emit(evt.Kind, evt.Payload)
	}
	return nil
}

func (tx *Tx) queue(kind string, payload any) {
	tx.pending = append(tx.pending, bus.Event{Kind: kind, Payload: payload})
}
