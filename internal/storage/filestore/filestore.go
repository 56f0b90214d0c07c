// Пакет filestore — fs-бэкенд blob-хранилища.
// Содержимое копий хранится под <data>/blobs/<key>, запись потоковая
// с подсчётом SHA-256 на лету, чтение поддерживает диапазоны.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// FileStore — управление содержимым копий на диске.
type FileStore struct {
	// dir — корневая директория blob-ов
	dir string
}

// New создаёт FileStore, при необходимости создавая директорию.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Put записывает данные из reader под ключом key.
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Put(ctx context.Context, key string, reader io.Reader) (*model.SaveResult, error) {
	fullPath, err := fs.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию для %s: %w", key, err)
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(&ctxReader{ctx: ctx, r: reader}, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &model.SaveResult{
		Key:      key,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Get открывает содержимое key начиная с offset.
// length < 0 — до конца. Вызывающий код обязан закрыть ReadCloser.
func (fs *FileStore) Get(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	fullPath, err := fs.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NewError(model.ErrNotFound, "содержимое %s не найдено", key)
		}
		return nil, fmt.Errorf("ошибка открытия %s: %w", key, err)
	}

	if offset == 0 && length < 0 {
		return f, nil
	}

	if length < 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("ошибка получения размера %s: %w", key, err)
		}
		length = max(info.Size()-offset, 0)
	}

	return &sectionReadCloser{
		Reader: io.NewSectionReader(f, offset, length),
		closer: f,
	}, nil
}

// Delete удаляет содержимое key. Отсутствующий ключ — не ошибка.
func (fs *FileStore) Delete(_ context.Context, key string) error {
	fullPath, err := fs.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления %s: %w", key, err)
	}
	return nil
}

// Exists проверяет наличие содержимого key.
func (fs *FileStore) Exists(key string) bool {
	fullPath, err := fs.path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// Dir возвращает корневую директорию.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// path переводит ключ в путь, не выходящий за пределы dir.
func (fs *FileStore) path(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", model.NewError(model.ErrBadRequest, "недопустимый ключ %q", key)
	}
	return filepath.Join(fs.dir, rel), nil
}

type sectionReadCloser struct {
	io.Reader
	closer io.Closer
}

func (s *sectionReadCloser) Close() error {
	return s.closer.Close()
}

// ctxReader прерывает копирование при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
