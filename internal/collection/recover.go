package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
	"github.com/bigkaa/goartstore/access-point/internal/storage/wal"
)

// RecoverResult — итоги восстановления.
type RecoverResult struct {
	PromotesCommitted  int
	PromotesRolledBack int
	DeletesReplayed    int
	Failed             int
}

// Recover обрабатывает pending WAL-записи после рестарта:
//   - file_promote: если дескриптор ссылается на новый ключ, запись
//     коммитится, иначе содержимое удаляется и запись откатывается;
//   - file_delete: удаление доигрывается (дескриптор, затем содержимое).
//
// Завершённые записи удаляются из WAL.
func (e *Engine) Recover(ctx context.Context) (*RecoverResult, error) {
	pending, err := e.wal.RecoverPending()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения WAL: %w", err)
	}

	result := &RecoverResult{}
	for _, entry := range pending {
		var err error
		switch entry.Operation {
		case wal.OpFilePromote:
			err = e.recoverPromote(ctx, entry, result)
		case wal.OpFileDelete:
			err = e.recoverDelete(ctx, entry, result)
		default:
			err = fmt.Errorf("неизвестная операция %q", entry.Operation)
		}
		if err != nil {
			result.Failed++
			e.logger.Error("Не удалось восстановить WAL-транзакцию",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
				slog.String("file_id", entry.FileID),
				slog.String("error", err.Error()),
			)
		}
	}

	if _, err := e.wal.CleanCommitted(); err != nil {
		e.logger.Warn("Ошибка очистки WAL", slog.String("error", err.Error()))
	}

	if len(pending) > 0 {
		e.logger.Info("Восстановление WAL завершено",
			slog.Int("promotes_committed", result.PromotesCommitted),
			slog.Int("promotes_rolled_back", result.PromotesRolledBack),
			slog.Int("deletes_replayed", result.DeletesReplayed),
			slog.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (e *Engine) recoverPromote(ctx context.Context, entry *wal.Entry, result *RecoverResult) error {
	rec, err := e.meta.Get(ctx, entry.Collection, entry.FileID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}

	if rec != nil && slices.ContainsFunc(entry.Keys, func(key string) bool {
		return slices.Contains(rec.BlobKeys(), key)
	}) {
		result.PromotesCommitted++
		return e.wal.Commit(entry.TransactionID)
	}

	for _, key := range entry.Keys {
		if err := e.blobs.Delete(ctx, key); err != nil {
			return err
		}
	}
	result.PromotesRolledBack++
	return e.wal.Rollback(entry.TransactionID)
}

func (e *Engine) recoverDelete(ctx context.Context, entry *wal.Entry, result *RecoverResult) error {
	err := e.meta.Delete(ctx, entry.Collection, entry.FileID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	if !e.deleteBlobs(ctx, entry.Keys) {
		return errors.New("содержимое удалено не полностью")
	}
	result.DeletesReplayed++
	return e.wal.Commit(entry.TransactionID)
}
