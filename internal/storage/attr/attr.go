// Пакет attr — чтение и запись дескрипторов файлов (attr.json).
// Для fs-бэкенда метаданных каждый файл коллекции имеет
// <meta>/<collection>/<id>.attr.json, который является единственным
// источником истины. Запись атомарна: temp → fsync → rename.
package attr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// AttrSuffix — суффикс файла метаданных.
const AttrSuffix = ".attr.json"

// maxAttrFileSize — максимальный размер attr.json (64 КБ).
// Дескриптор с десятками копий укладывается с запасом.
const maxAttrFileSize = 64 * 1024

// FilePath возвращает путь к attr.json файла id коллекции collection.
func FilePath(metaDir, collection, id string) string {
	return filepath.Join(metaDir, collection, id+AttrSuffix)
}

// IsAttrFile проверяет, является ли путь файлом метаданных.
func IsAttrFile(path string) bool {
	return strings.HasSuffix(path, AttrSuffix)
}

// Write атомарно записывает дескриптор в attr.json.
func Write(path string, rec *model.FileRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации дескриптора: %w", err)
	}

	if len(data) > maxAttrFileSize {
		return fmt.Errorf("размер attr.json (%d байт) превышает максимум (%d байт)", len(data), maxAttrFileSize)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает дескриптор из attr.json.
func Read(path string) (*model.FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения attr.json %s: %w", path, err)
	}

	var rec model.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации attr.json %s: %w", path, err)
	}
	if rec.Copies == nil {
		rec.Copies = make(map[string]model.Representation)
	}

	return &rec, nil
}

// Delete удаляет attr.json. Отсутствующий файл — не ошибка.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления attr.json %s: %w", path, err)
	}
	return nil
}

// ScanDir обходит metaDir/<collection>/ и возвращает все дескрипторы.
// Невалидные attr.json пропускаются и возвращаются в skipped.
func ScanDir(metaDir string) (records []*model.FileRecord, skipped []string, err error) {
	err = filepath.WalkDir(metaDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && path == metaDir {
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() || !IsAttrFile(path) {
			return nil
		}
		rec, err := Read(path)
		if err != nil {
			skipped = append(skipped, path)
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка сканирования директории %s: %w", metaDir, err)
	}
	return records, skipped, nil
}
