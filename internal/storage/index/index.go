// Пакет index — fs-бэкенд хранилища метаданных.
//
// Дескрипторы хранятся в attr.json (пакет attr), поверх которых
// поддерживается потокобезопасный in-memory индекс. Индекс строится
// при старте (Load) и обновляется синхронно при каждой записи:
// сначала attr.json, затем карта. Чтения не обращаются к диску.
//
// Не персистентный: при рестарте пересобирается из attr.json.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
	"github.com/bigkaa/goartstore/access-point/internal/storage/attr"
)

type recordKey struct {
	collection string
	id         string
}

// Store — индекс дескрипторов с записью в attr.json.
type Store struct {
	mu      sync.RWMutex
	metaDir string
	files   map[recordKey]*model.FileRecord
	ready   bool
	logger  *slog.Logger
}

// New создаёт пустой индекс над директорией metaDir. Для заполнения вызовите Load.
func New(metaDir string, logger *slog.Logger) *Store {
	return &Store{
		metaDir: metaDir,
		files:   make(map[recordKey]*model.FileRecord),
		logger:  logger.With(slog.String("component", "index")),
	}
}

// Load строит индекс из attr.json. Заменяет текущее содержимое
// и помечает индекс готовым.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, skipped, err := attr.ScanDir(s.metaDir)
	if err != nil {
		return fmt.Errorf("ошибка построения индекса: %w", err)
	}
	for _, path := range skipped {
		s.logger.Warn("Невалидный attr.json пропущен", slog.String("path", path))
	}

	s.files = make(map[recordKey]*model.FileRecord, len(records))
	for _, rec := range records {
		s.files[recordKey{rec.Collection, rec.ID}] = rec
	}
	s.ready = true

	s.logger.Info("Индекс метаданных построен",
		slog.Int("files", len(s.files)),
		slog.String("meta_dir", s.metaDir),
	)
	return nil
}

// IsReady возвращает true, если индекс построен.
func (s *Store) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Insert сохраняет новый дескриптор. Существующий id → ErrConflict.
func (s *Store) Insert(_ context.Context, rec *model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{rec.Collection, rec.ID}
	if _, ok := s.files[key]; ok {
		return model.NewError(model.ErrConflict, "файл %s уже существует", rec.ID)
	}
	if err := attr.Write(attr.FilePath(s.metaDir, rec.Collection, rec.ID), rec); err != nil {
		return err
	}
	s.files[key] = rec.Clone()
	return nil
}

// Get возвращает копию дескриптора. Отсутствующий → ErrNotFound.
func (s *Store) Get(_ context.Context, collection, id string) (*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.files[recordKey{collection, id}]
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "Not found: %s", id)
	}
	return rec.Clone(), nil
}

// Update заменяет существующий дескриптор.
func (s *Store) Update(_ context.Context, rec *model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{rec.Collection, rec.ID}
	if _, ok := s.files[key]; !ok {
		return model.NewError(model.ErrNotFound, "Not found: %s", rec.ID)
	}
	if err := attr.Write(attr.FilePath(s.metaDir, rec.Collection, rec.ID), rec); err != nil {
		return err
	}
	s.files[key] = rec.Clone()
	return nil
}

// Delete удаляет дескриптор.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{collection, id}
	if _, ok := s.files[key]; !ok {
		return model.NewError(model.ErrNotFound, "Not found: %s", id)
	}
	if err := attr.Delete(attr.FilePath(s.metaDir, collection, id)); err != nil {
		return err
	}
	delete(s.files, key)
	return nil
}

// Count возвращает количество файлов коллекции.
func (s *Store) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key := range s.files {
		if key.collection == collection {
			n++
		}
	}
	return n, nil
}
