package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// DBTX — общий интерфейс *pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — хранилище дескрипторов в таблице files.
// Копии и ожидания хранятся в jsonb.
type Store struct {
	db DBTX
}

// NewStore создаёт хранилище поверх пула или транзакции.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// NewPoolStore — NewStore для пула.
func NewPoolStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (s *Store) Insert(ctx context.Context, rec *model.FileRecord) error {
	query := `
		INSERT INTO files (collection, id, owner, copies, pending, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, query,
		rec.Collection, rec.ID, rec.Owner, copiesOf(rec), pendingOf(rec), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewError(model.ErrConflict, "файл %s уже существует", rec.ID)
		}
		return fmt.Errorf("ошибка вставки дескриптора: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*model.FileRecord, error) {
	query := `
		SELECT collection, id, owner, copies, pending, created_at, updated_at
		FROM files
		WHERE collection = $1 AND id = $2`

	rec := &model.FileRecord{}
	err := s.db.QueryRow(ctx, query, collection, id).Scan(
		&rec.Collection, &rec.ID, &rec.Owner, &rec.Copies, &rec.Pending, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewError(model.ErrNotFound, "Not found: %s", id)
		}
		return nil, fmt.Errorf("ошибка чтения дескриптора: %w", err)
	}
	if rec.Copies == nil {
		rec.Copies = make(map[string]model.Representation)
	}
	if len(rec.Pending) == 0 {
		rec.Pending = nil
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, rec *model.FileRecord) error {
	query := `
		UPDATE files
		SET owner = $3, copies = $4, pending = $5, updated_at = $6
		WHERE collection = $1 AND id = $2`

	tag, err := s.db.Exec(ctx, query,
		rec.Collection, rec.ID, rec.Owner, copiesOf(rec), pendingOf(rec), rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления дескриптора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewError(model.ErrNotFound, "Not found: %s", rec.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM files WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления дескриптора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewError(model.ErrNotFound, "Not found: %s", id)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM files WHERE collection = $1`, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return n, nil
}

func copiesOf(rec *model.FileRecord) map[string]model.Representation {
	if rec.Copies == nil {
		return map[string]model.Representation{}
	}
	return rec.Copies
}

func pendingOf(rec *model.FileRecord) map[string]model.PendingCopy {
	if rec.Pending == nil {
		return map[string]model.PendingCopy{}
	}
	return rec.Pending
}

// isUniqueViolation — код 23505 (unique_violation).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
