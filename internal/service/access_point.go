// access_point.go — операции точки доступа: Insert, Prepare, Upload,
// Download, Delete. Общий вход для HTTP- и RPC-маршрутов.
//
// Каждая операция: проверка режима → поиск дескриптора (400 без id,
// 404 если нет) → AccessGate для класса операции → работа с данными.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/access-point/internal/api/middleware"
	"github.com/bigkaa/goartstore/access-point/internal/collection"
	"github.com/bigkaa/goartstore/access-point/internal/domain/access"
	"github.com/bigkaa/goartstore/access-point/internal/domain/mode"
	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

const defaultContentType = "application/octet-stream"

// InsertRequest — создание дескриптора с объявлением первой копии.
type InsertRequest struct {
	Collection string
	// ID — идентификатор файла; пустой — генерируется UUID
	ID string
	// Selector — селектор объявляемой копии; пустой — _master
	Selector    string
	Name        string
	ContentType string
	Size        int64
}

// PrepareRequest — объявление ещё одной копии существующего файла.
type PrepareRequest struct {
	Collection  string
	ID          string
	Selector    string
	Name        string
	ContentType string
	Size        int64
}

// UploadRequest — один чанк копии.
type UploadRequest struct {
	Collection string
	ID         string
	Selector   string
	Data       []byte
	// Offset — смещение чанка; nil только для загрузки одним чанком
	Offset *int64
	Hold   *Hold
}

// DownloadRequest — чтение копии.
type DownloadRequest struct {
	Collection string
	ID         string
	Selector   string
	Range      model.ByteRange
	Hold       *Hold
}

// DeleteRequest — удаление файла со всеми копиями.
type DeleteRequest struct {
	Collection string
	ID         string
	Hold       *Hold
}

// AccessPoint — операции над файлами коллекций с проверкой доступа.
type AccessPoint struct {
	engine      *collection.Engine
	assembler   *Assembler
	resolver    *Resolver
	gate        *access.Gate
	registry    *access.Registry
	sm          *mode.StateMachine
	maxFileSize int64
	logger      *slog.Logger
}

// NewAccessPoint создаёт AccessPoint. maxFileSize — предел объявленного размера копии.
func NewAccessPoint(
	engine *collection.Engine,
	assembler *Assembler,
	resolver *Resolver,
	gate *access.Gate,
	registry *access.Registry,
	sm *mode.StateMachine,
	maxFileSize int64,
	logger *slog.Logger,
) *AccessPoint {
	return &AccessPoint{
		engine:      engine,
		assembler:   assembler,
		resolver:    resolver,
		gate:        gate,
		registry:    registry,
		sm:          sm,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "access_point")),
	}
}

// Insert создаёт дескриптор файла с ожиданием копии (класс insert).
func (ap *AccessPoint) Insert(ctx context.Context, req InsertRequest) (rec *model.FileRecord, err error) {
	defer observe("insert", &err)

	if err := ap.sm.Require(mode.OpInsert); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	if !model.ValidName(id) {
		return nil, model.NewError(model.ErrBadRequest, "Invalid id: %q", id)
	}
	selector, pending, err := ap.declare(req.Selector, req.Name, req.ContentType, req.Size, id)
	if err != nil {
		return nil, err
	}

	actor := model.ActorFrom(ctx)
	now := time.Now().UTC()
	rec = &model.FileRecord{
		ID:         id,
		Collection: req.Collection,
		Owner:      actor.ID,
		Copies:     map[string]model.Representation{},
		Pending:    map[string]model.PendingCopy{selector: pending},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := ap.authorize(model.PermInsert, actor, rec); err != nil {
		return nil, err
	}
	if err := ap.engine.Insert(ctx, rec); err != nil {
		return nil, err
	}

	ap.logger.Info("Файл создан",
		slog.String("collection", rec.Collection),
		slog.String("file_id", rec.ID),
		slog.String("copy", selector),
		slog.Int64("size", pending.Size),
		slog.String("owner", rec.Owner),
	)
	return rec, nil
}

// Prepare объявляет копию selector существующего файла (класс insert).
// Повторное объявление опубликованной копии готовит её замену.
func (ap *AccessPoint) Prepare(ctx context.Context, req PrepareRequest) (rec *model.FileRecord, err error) {
	defer observe("prepare", &err)

	if err := ap.sm.Require(mode.OpInsert); err != nil {
		return nil, err
	}
	file, err := ap.engine.FindOne(ctx, req.Collection, req.ID)
	if err != nil {
		return nil, err
	}
	if err := ap.authorize(model.PermInsert, model.ActorFrom(ctx), file); err != nil {
		return nil, err
	}

	selector, pending, err := ap.declare(req.Selector, req.Name, req.ContentType, req.Size, file.ID)
	if err != nil {
		return nil, err
	}

	unlock := ap.assembler.Lock(file.Collection, file.ID)
	defer unlock()

	current, err := ap.engine.FindOne(ctx, file.Collection, file.ID)
	if err != nil {
		return nil, err
	}
	if current.Pending == nil {
		current.Pending = make(map[string]model.PendingCopy)
	}
	current.Pending[selector] = pending
	current.UpdatedAt = time.Now().UTC()

	if err := ap.engine.Update(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// Upload записывает чанк копии (класс insert). Hold отпускается
// после прихода последнего байта копии.
func (ap *AccessPoint) Upload(ctx context.Context, req UploadRequest) (result *AssemblyResult, err error) {
	defer observe("upload", &err)

	if err := ap.sm.Require(mode.OpUpload); err != nil {
		return nil, err
	}
	file, err := ap.engine.FindOne(ctx, req.Collection, req.ID)
	if err != nil {
		return nil, err
	}
	if err := ap.authorize(model.PermInsert, model.ActorFrom(ctx), file); err != nil {
		return nil, err
	}
	if req.Selector != "" && !model.ValidName(req.Selector) {
		return nil, model.NewError(model.ErrBadRequest, "Invalid selector: %s", req.Selector)
	}

	return ap.assembler.WriteChunk(ctx, file, req.Selector, req.Data, req.Offset, req.Hold)
}

// Download открывает копию файла (класс download).
func (ap *AccessPoint) Download(ctx context.Context, req DownloadRequest) (content *Content, err error) {
	defer observe("download", &err)
	req.Hold.Release()

	if err := ap.sm.Require(mode.OpDownload); err != nil {
		return nil, err
	}
	file, err := ap.engine.FindOne(ctx, req.Collection, req.ID)
	if err != nil {
		return nil, err
	}
	if err := ap.authorize(model.PermDownload, model.ActorFrom(ctx), file); err != nil {
		return nil, err
	}

	return ap.resolver.Resolve(ctx, file, req.Selector, req.Range)
}

// Delete удаляет файл со всеми копиями (класс remove).
// Незавершённые сборки копий файла отбрасываются.
func (ap *AccessPoint) Delete(ctx context.Context, req DeleteRequest) (err error) {
	defer observe("delete", &err)
	req.Hold.Release()

	if err := ap.sm.Require(mode.OpRemove); err != nil {
		return err
	}
	file, err := ap.engine.FindOne(ctx, req.Collection, req.ID)
	if err != nil {
		return err
	}
	if err := ap.authorize(model.PermRemove, model.ActorFrom(ctx), file); err != nil {
		return err
	}

	unlock := ap.assembler.Lock(file.Collection, file.ID)
	defer unlock()

	current, err := ap.engine.FindOne(ctx, file.Collection, file.ID)
	if err != nil {
		return err
	}
	if err := ap.engine.Remove(ctx, current); err != nil {
		return err
	}
	for selector := range current.Pending {
		ap.assembler.Discard(current.Collection, current.ID, selector)
	}
	return nil
}

// Collections возвращает имена коллекций с правилами доступа.
func (ap *AccessPoint) Collections() []string {
	return ap.registry.Collections()
}

// Mode возвращает текущий режим работы.
func (ap *AccessPoint) Mode() mode.ServiceMode {
	return ap.sm.CurrentMode()
}

func (ap *AccessPoint) authorize(class model.PermissionClass, actor model.Actor, file *model.FileRecord) error {
	return ap.gate.Check(class, actor, file, ap.registry.Rules(file.Collection, class))
}

// declare проверяет параметры объявляемой копии.
func (ap *AccessPoint) declare(selector, name, contentType string, size int64, id string) (string, model.PendingCopy, error) {
	if selector == "" {
		selector = model.MasterCopy
	}
	if !model.ValidName(selector) {
		return "", model.PendingCopy{}, model.NewError(model.ErrBadRequest, "Invalid selector: %s", selector)
	}
	if size < 0 {
		return "", model.PendingCopy{}, model.NewError(model.ErrBadRequest, "Invalid size: %d", size)
	}
	if ap.maxFileSize > 0 && size > ap.maxFileSize {
		return "", model.PendingCopy{}, model.NewError(model.ErrPayloadTooLarge,
			"Size %d exceeds maximum %d", size, ap.maxFileSize)
	}
	if name == "" {
		name = id
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	return selector, model.PendingCopy{Name: name, ContentType: contentType, Size: size}, nil
}

// observe обновляет ap_operations_total по результату операции.
func observe(operation string, err *error) {
	result := "success"
	switch {
	case *err == nil:
	case errors.Is(*err, model.ErrAccessDenied):
		result = "denied"
	default:
		result = "error"
	}
	middleware.OperationsTotal.WithLabelValues(operation, result).Inc()
}
