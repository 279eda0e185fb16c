// Пакет repository — PostgreSQL-реализация хранилища реестра (ledger.Store).
// Все запросы — чистый SQL через pgx, без ORM.
//
// Каждая мутация выполняется в одной транзакции под глобальной
// транзакционной advisory-блокировкой: коммиты сериализованы, поэтому
// номера событий, запросов и порядковые номера файлов совпадают
// с порядком фиксации и не имеют пропусков.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Abbas-1010/BlockChain-Based-File-Sharing-and-Fine-grained-access-control/internal/ledger"
)

// commitLockKey — ключ pg_advisory_xact_lock последовательного журнала коммитов.
const commitLockKey int64 = 0x43_49_44_52_45_47 // "CIDREG"

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — хранилище реестра поверх PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore создаёт хранилище поверх пула подключений.
// Схема должна быть применена заранее (database.Migrate).
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With(slog.String("component", "pg_store")),
	}
}

// runInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
func (s *Store) runInTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Update выполняет fn атомарно под блокировкой журнала коммитов.
func (s *Store) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.runInTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", commitLockKey); err != nil {
			return fmt.Errorf("ошибка блокировки журнала коммитов: %w", err)
		}
		if err := fn(&pgTx{db: tx}); err != nil {
			s.logger.Debug("Транзакция отменена", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}

// View выполняет fn в read-only транзакции REPEATABLE READ:
// все чтения видят один согласованный снимок.
func (s *Store) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	opts := pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}
	return s.runInTx(ctx, opts, func(tx pgx.Tx) error {
		return fn(&pgTx{db: tx, readOnly: true})
	})
}

// pgTx — ledger.Tx поверх транзакции pgx.
type pgTx struct {
	db       DBTX
	readOnly bool
}

func (t *pgTx) writable() error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// nextNumber возвращает следующий номер в столбце column таблицы table.
// Вызывается только под блокировкой журнала коммитов.
func (t *pgTx) nextNumber(ctx context.Context, table, column string, first int64) (int64, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(%s) + 1, $1) FROM %s", column, table)
	var n int64
	if err := t.db.QueryRow(ctx, query, first).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка получения номера %s.%s: %w", table, column, err)
	}
	return n, nil
}
