// Пакет service — бизнес-логика Access Point.
// assembler.go — сборка копий из чанков и их публикация.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/access-point/internal/collection"
	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
	"github.com/bigkaa/goartstore/access-point/internal/storage/tempstore"
)

// Prometheus метрики сборки
var (
	chunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ap_chunks_total",
			Help: "Общее количество принятых чанков",
		},
		[]string{"result"},
	)

	promotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ap_promotions_total",
			Help: "Общее количество публикаций собранных копий",
		},
		[]string{"result"},
	)
)

// AssemblyResult — состояние сборки после записи чанка.
type AssemblyResult struct {
	FileID       string `json:"file_id"`
	Copy         string `json:"copy"`
	BytesWritten int64  `json:"bytes_written"`
	Size         int64  `json:"size"`
	Complete     bool   `json:"complete"`
	// Representation — опубликованная копия, только при Complete
	Representation *model.Representation `json:"representation,omitempty"`
}

// Assembler собирает копии в temp store и публикует их в collection.
type Assembler struct {
	engine *collection.Engine
	temp   *tempstore.Store
	locks  *keyedMutex
	logger *slog.Logger
}

// NewAssembler создаёт Assembler.
func NewAssembler(engine *collection.Engine, temp *tempstore.Store, logger *slog.Logger) *Assembler {
	return &Assembler{
		engine: engine,
		temp:   temp,
		locks:  newKeyedMutex(),
		logger: logger.With(slog.String("component", "assembler")),
	}
}

// Lock захватывает мьютекс файла. Держатель исключает сборку и
// публикацию копий этого файла.
func (a *Assembler) Lock(collectionName, id string) func() {
	return a.locks.Lock(collectionName + "/" + id)
}

// WriteChunk записывает чанк data копии selector файла file.
//
// Поток (под мьютексом файла):
//  1. Повторное чтение дескриптора; нет ожидания копии → ErrConflict
//  2. Проверка смещения: offset == nil допустим только для загрузки одним чанком
//  3. Запись в staging-файл
//  4. При заполнении всей копии: освобождение hold, публикация через
//     collection.Put, удаление staging-состояния
//
// Ошибка публикации → ErrPromotion; дескриптор не меняется,
// staging-состояние удаляется, загрузку нужно начать заново.
func (a *Assembler) WriteChunk(
	ctx context.Context,
	file *model.FileRecord,
	selector string,
	data []byte,
	offset *int64,
	hold *Hold,
) (*AssemblyResult, error) {
	if selector == "" {
		selector = model.MasterCopy
	}

	unlock := a.Lock(file.Collection, file.ID)
	defer unlock()

	current, err := a.engine.FindOne(ctx, file.Collection, file.ID)
	if err != nil {
		return nil, err
	}
	pending, ok := current.PendingFor(selector)
	if !ok {
		chunksTotal.WithLabelValues("rejected").Inc()
		return nil, model.NewError(model.ErrConflict, "No upload in progress for %s/%s", file.ID, selector)
	}

	var off int64
	switch {
	case offset != nil:
		off = *offset
	case int64(len(data)) != pending.Size:
		chunksTotal.WithLabelValues("rejected").Inc()
		return nil, model.NewError(model.ErrBadRequest, "Offset is required for multi-chunk uploads")
	}

	key := tempstore.Key{Collection: file.Collection, FileID: file.ID, Selector: selector}
	state, err := a.temp.SaveChunk(key, pending.Size, data, off)
	if err != nil {
		chunksTotal.WithLabelValues("rejected").Inc()
		if errors.Is(err, model.ErrBadRequest) {
			return nil, err
		}
		a.logger.Error("Ошибка записи чанка",
			slog.String("key", key.String()),
			slog.Int64("offset", off),
			slog.String("error", err.Error()),
		)
		return nil, model.WrapError(model.ErrStagingWrite, err, "Failed to write chunk at offset %d", off)
	}
	chunksTotal.WithLabelValues("accepted").Inc()

	result := &AssemblyResult{
		FileID:       file.ID,
		Copy:         selector,
		BytesWritten: state.BytesWritten,
		Size:         state.Expected,
		Complete:     state.Complete(),
	}
	if !result.Complete {
		return result, nil
	}

	// последний байт получен: соединение свободно для следующего запроса
	hold.Release()

	rep, err := a.promote(ctx, current, key)
	if err != nil {
		promotionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	promotionsTotal.WithLabelValues("success").Inc()

	result.Representation = rep
	return result, nil
}

// promote публикует собранную копию key и удаляет staging-состояние.
func (a *Assembler) promote(ctx context.Context, file *model.FileRecord, key tempstore.Key) (*model.Representation, error) {
	defer a.temp.Discard(key)

	rc, err := a.temp.Open(key)
	if err != nil {
		a.logger.Error("Ошибка открытия собранной копии",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
		return nil, model.WrapError(model.ErrPromotion, err, "Failed to promote %s/%s", key.FileID, key.Selector)
	}
	defer rc.Close()

	rep, err := a.engine.Put(ctx, file, key.Selector, rc)
	if err != nil {
		a.logger.Error("Ошибка публикации копии",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
		return nil, model.WrapError(model.ErrPromotion, err, "Failed to promote %s/%s", key.FileID, key.Selector)
	}
	return rep, nil
}

// Discard удаляет staging-состояние копии.
func (a *Assembler) Discard(collectionName, id, selector string) {
	a.temp.Discard(tempstore.Key{Collection: collectionName, FileID: id, Selector: selector})
}
