// Пакет collection — движок хранения файлов коллекций.
//
// Engine объединяет хранилище дескрипторов (MetadataStore) и
// хранилище содержимого (BlobStore). Публикация копии и удаление файла
// журналируются в WAL: после сбоя Recover доводит или откатывает
// незавершённые операции.
package collection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
	"github.com/bigkaa/goartstore/access-point/internal/events"
	"github.com/bigkaa/goartstore/access-point/internal/storage/wal"
)

// MetadataStore — хранилище дескрипторов (fs-индекс или PostgreSQL).
type MetadataStore interface {
	Insert(ctx context.Context, rec *model.FileRecord) error
	Get(ctx context.Context, collection, id string) (*model.FileRecord, error)
	Update(ctx context.Context, rec *model.FileRecord) error
	Delete(ctx context.Context, collection, id string) error
	Count(ctx context.Context, collection string) (int, error)
}

// BlobStore — хранилище содержимого копий (fs или S3).
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (*model.SaveResult, error)
	// Get читает length байт начиная с offset; length < 0 — до конца.
	Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Engine — движок хранения.
type Engine struct {
	meta   MetadataStore
	blobs  BlobStore
	wal    *wal.WAL
	events events.Publisher
	logger *slog.Logger
}

// New создаёт Engine. pub может быть events.Nop{}.
func New(meta MetadataStore, blobs BlobStore, walEngine *wal.WAL, pub events.Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		meta:   meta,
		blobs:  blobs,
		wal:    walEngine,
		events: pub,
		logger: logger.With(slog.String("component", "collection")),
	}
}

// BlobKey возвращает новый уникальный ключ содержимого копии.
func BlobKey(collection, id, selector string) string {
	return collection + "/" + id + "/" + selector + "/" + uuid.New().String()
}

// FindOne возвращает дескриптор файла.
// Пустой id → ErrBadRequest, отсутствующий → ErrNotFound.
func (e *Engine) FindOne(ctx context.Context, collection, id string) (*model.FileRecord, error) {
	if id == "" {
		return nil, model.NewError(model.ErrBadRequest, "Missing id")
	}
	return e.meta.Get(ctx, collection, id)
}

// Insert сохраняет новый дескриптор.
func (e *Engine) Insert(ctx context.Context, rec *model.FileRecord) error {
	return e.meta.Insert(ctx, rec)
}

// Update сохраняет изменённый дескриптор (объявление новой копии).
func (e *Engine) Update(ctx context.Context, rec *model.FileRecord) error {
	return e.meta.Update(ctx, rec)
}

// Count возвращает количество файлов коллекции.
func (e *Engine) Count(ctx context.Context, collection string) (int, error) {
	return e.meta.Count(ctx, collection)
}

// Get открывает содержимое копии selector в диапазоне rng.
func (e *Engine) Get(ctx context.Context, rec *model.FileRecord, selector string, rng model.ByteRange) (io.ReadCloser, error) {
	rep, ok := rec.Copy(selector)
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "Invalid selector: %s", selector)
	}
	offset, length, err := rng.Resolve(rep.Size)
	if err != nil {
		return nil, err
	}
	if rng.IsFull() {
		length = -1
	}
	return e.blobs.Get(ctx, rep.Key, offset, length)
}

// Put публикует содержимое data как копию selector файла rec.
//
// Поток:
//  1. WAL file_promote с новым ключом
//  2. запись содержимого в BlobStore
//  3. обновление дескриптора: копия опубликована, ожидание снято
//  4. WAL Commit, удаление содержимого заменённой копии
//
// При ошибке новое содержимое удаляется, WAL откатывается,
// дескриптор остаётся прежним.
func (e *Engine) Put(ctx context.Context, rec *model.FileRecord, selector string, data io.Reader) (*model.Representation, error) {
	key := BlobKey(rec.Collection, rec.ID, selector)

	walEntry, err := e.wal.StartTransaction(wal.OpFilePromote, wal.Target{
		Collection: rec.Collection,
		FileID:     rec.ID,
		Selector:   selector,
		Keys:       []string{key},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания WAL-транзакции: %w", err)
	}

	var saved bool
	rollback := func() {
		if saved {
			if err := e.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
				e.logger.Error("Ошибка удаления содержимого при откате",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := e.wal.Rollback(walEntry.TransactionID); err != nil {
			e.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}

	result, err := e.blobs.Put(ctx, key, data)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("ошибка записи содержимого: %w", err)
	}
	saved = true

	current, err := e.meta.Get(ctx, rec.Collection, rec.ID)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("ошибка чтения дескриптора: %w", err)
	}

	declared, _ := current.PendingFor(selector)
	old, replaced := current.Copy(selector)
	name := declared.Name
	if name == "" {
		name = old.Name
	}
	contentType := declared.ContentType
	if contentType == "" {
		contentType = old.ContentType
	}

	now := time.Now().UTC()
	rep := model.Representation{
		Name:        name,
		ContentType: contentType,
		Size:        result.Size,
		Checksum:    result.Checksum,
		Key:         key,
		StoredAt:    now,
	}
	current.Copies[selector] = rep
	delete(current.Pending, selector)
	current.UpdatedAt = now

	if err := e.meta.Update(ctx, current); err != nil {
		rollback()
		return nil, fmt.Errorf("ошибка обновления дескриптора: %w", err)
	}

	if err := e.wal.Commit(walEntry.TransactionID); err != nil {
		// дескриптор уже ссылается на ключ: Recover закоммитит запись
		e.logger.Error("Ошибка коммита WAL",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	if replaced && old.Key != key {
		if err := e.blobs.Delete(ctx, old.Key); err != nil {
			e.logger.Warn("Не удалось удалить содержимое заменённой копии",
				slog.String("key", old.Key),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.Info("Копия опубликована",
		slog.String("collection", rec.Collection),
		slog.String("file_id", rec.ID),
		slog.String("copy", selector),
		slog.Int64("size", rep.Size),
	)
	e.publish(ctx, events.Event{
		Type:       events.TypeStored,
		Collection: rec.Collection,
		FileID:     rec.ID,
		Copy:       selector,
		Size:       rep.Size,
		At:         now,
	})

	return &rep, nil
}

// Remove удаляет файл со всеми копиями.
//
// Ошибка удаления дескриптора → ErrRemoval, ничего не изменено.
// Ошибки удаления содержимого логируются, WAL-запись остаётся
// pending и доигрывается в Recover.
func (e *Engine) Remove(ctx context.Context, rec *model.FileRecord) error {
	current, err := e.meta.Get(ctx, rec.Collection, rec.ID)
	if err != nil {
		return err
	}
	keys := current.BlobKeys()

	walEntry, err := e.wal.StartTransaction(wal.OpFileDelete, wal.Target{
		Collection: rec.Collection,
		FileID:     rec.ID,
		Keys:       keys,
	})
	if err != nil {
		return model.WrapError(model.ErrRemoval, err, "Failed to remove %s", rec.ID)
	}

	if err := e.meta.Delete(ctx, rec.Collection, rec.ID); err != nil {
		if rbErr := e.wal.Rollback(walEntry.TransactionID); rbErr != nil {
			e.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		return model.WrapError(model.ErrRemoval, err, "Failed to remove %s", rec.ID)
	}

	if e.deleteBlobs(context.WithoutCancel(ctx), keys) {
		if err := e.wal.Commit(walEntry.TransactionID); err != nil {
			e.logger.Error("Ошибка коммита WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.Info("Файл удалён",
		slog.String("collection", rec.Collection),
		slog.String("file_id", rec.ID),
		slog.Int("copies", len(keys)),
	)
	e.publish(ctx, events.Event{
		Type:       events.TypeRemoved,
		Collection: rec.Collection,
		FileID:     rec.ID,
		At:         time.Now().UTC(),
	})
	return nil
}

// deleteBlobs удаляет содержимое; возвращает true, если удалено всё.
func (e *Engine) deleteBlobs(ctx context.Context, keys []string) bool {
	ok := true
	for _, key := range keys {
		if err := e.blobs.Delete(ctx, key); err != nil {
			ok = false
			e.logger.Error("Ошибка удаления содержимого",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return ok
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if actor := model.ActorFrom(ctx); !actor.IsAnonymous() {
		ev.Actor = actor.ID
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn("Не удалось опубликовать событие",
			slog.String("type", string(ev.Type)),
			slog.String("file_id", ev.FileID),
			slog.String("error", err.Error()),
		)
	}
}
