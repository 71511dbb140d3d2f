package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// Коды ошибок PostgreSQL, которые транслируются в apperr
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeCheckViolation       = "23514"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeRestrictViolation    = "23001"
	codeInvalidText          = "22P02"
)

// querier - общее подмножество *pgxpool.Pool и pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store реализует repository.Store поверх PostgreSQL.
// Пул передаётся снаружи и закрывается владельцем (app), не Store.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore создаёт PostgreSQL хранилище.
// lockTimeout ограничивает ожидание row-level блокировок внутри единицы работы (0 - без ограничения).
func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{
		pool:        pool,
		lockTimeout: lockTimeout,
	}
}

// Ping проверяет соединение с БД
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Begin открывает транзакцию READ COMMITTED.
// Блокировки берутся явно через GetForUpdate / LockActiveByProduct.
func (s *Store) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	const op = "postgres.Begin"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, translate(op, err)
	}

	if s.lockTimeout > 0 {
		// set_config(..., true) действует только до конца транзакции, как SET LOCAL
		_, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()))
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, translate(op, err)
		}
	}

	return &unitOfWork{tx: tx}, nil
}

// unitOfWork - транзакция pgx
type unitOfWork struct {
	tx pgx.Tx
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	return translate("postgres.Commit", u.tx.Commit(ctx))
}

// Rollback после Commit возвращает pgx.ErrTxClosed, это не ошибка для вызывающего
func (u *unitOfWork) Rollback(ctx context.Context) error {
	err := u.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return translate("postgres.Rollback", err)
}

// translate переводит ошибки драйвера в таксономию apperr
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return apperr.Wrap(apperr.KindConflict, op, "concurrent modification", err)
		case codeCheckViolation:
			return apperr.Wrap(apperr.KindInvariantViolation, op, "constraint "+pgErr.ConstraintName+" violated", err)
		case codeUniqueViolation:
			switch pgErr.ConstraintName {
			case "batches_receipt_key":
				// параллельная приёмка той же партии - повтор найдёт уже созданную строку
				return apperr.Wrap(apperr.KindConflict, op, "batch created concurrently", err)
			case "ledger_operations_pkey":
				return apperr.Wrap(apperr.KindState, op, "operation already applied", err)
			}
			return apperr.Wrap(apperr.KindState, op, "already exists", err)
		case codeForeignKeyViolation:
			return apperr.Wrap(apperr.KindNotFound, op, "referenced entity does not exist", err)
		case codeRestrictViolation:
			return apperr.Wrap(apperr.KindInvariantViolation, op, pgErr.Message, err)
		case codeInvalidText:
			return apperr.Wrap(apperr.KindValidation, op, "malformed value", err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// notFoundOr возвращает NotFound для pgx.ErrNoRows и translate для остального
func notFoundOr(op, entity, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, entity, id)
	}
	return translate(op, err)
}

// nullable превращает пустую строку в NULL
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fromNullable(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
