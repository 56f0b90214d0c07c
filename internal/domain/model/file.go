// Пакет model — доменные модели Access Point.
// FileRecord — дескриптор логического файла коллекции, используется
// как in-memory представление, как формат attr.json и как строка
// таблицы files в PostgreSQL.
package model

import (
	"slices"
	"time"
)

// MasterCopy — селектор основной копии файла (используется по умолчанию).
const MasterCopy = "_master"

// PermissionClass — класс разрешения, для которого вызываются валидаторы.
type PermissionClass string

const (
	// PermInsert — создание файла и загрузка его байтов
	PermInsert PermissionClass = "insert"
	// PermDownload — чтение содержимого копий
	PermDownload PermissionClass = "download"
	// PermRemove — удаление файла целиком
	PermRemove PermissionClass = "remove"
)

// PermissionClasses — все классы разрешений в порядке объявления.
var PermissionClasses = []PermissionClass{PermInsert, PermDownload, PermRemove}

// Actor — инициатор запроса. ID — sub из JWT, пустая строка для анонимного.
type Actor struct {
	ID     string
	Scopes []string
}

// IsAnonymous возвращает true, если идентичность не установлена.
func (a Actor) IsAnonymous() bool {
	return a.ID == ""
}

// HasScope проверяет наличие scope у актора.
func (a Actor) HasScope(scope string) bool {
	return slices.Contains(a.Scopes, scope)
}

// Representation — одна сохранённая копия файла (например, оригинал или миниатюра).
type Representation struct {
	// Name — объявленное имя файла копии (для Content-Disposition)
	Name string `json:"name"`
	// ContentType — объявленный MIME-тип
	ContentType string `json:"content_type,omitempty"`
	// Size — длина сохранённого содержимого в байтах
	Size int64 `json:"size"`
	// Checksum — SHA-256 сохранённого содержимого
	Checksum string `json:"checksum"`
	// Key — ключ содержимого в blob-хранилище, наружу не отдаётся
	Key string `json:"key"`
	// StoredAt — время публикации копии (UTC)
	StoredAt time.Time `json:"stored_at"`
}

// PendingCopy — объявленная, но ещё не собранная копия.
type PendingCopy struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	// Size — ожидаемая полная длина копии в байтах
	Size int64 `json:"size"`
}

// FileRecord — дескриптор файла коллекции.
type FileRecord struct {
	// ID — уникальный идентификатор файла в коллекции
	ID string `json:"id"`
	// Collection — имя коллекции-владельца
	Collection string `json:"collection"`
	// Owner — актор, создавший файл
	Owner string `json:"owner,omitempty"`
	// Copies — опубликованные копии: селектор → копия
	Copies map[string]Representation `json:"copies"`
	// Pending — копии в процессе сборки: селектор → ожидание
	Pending   map[string]PendingCopy `json:"pending,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Copy возвращает копию по селектору.
func (f *FileRecord) Copy(selector string) (Representation, bool) {
	rep, ok := f.Copies[selector]
	return rep, ok
}

// PendingFor возвращает ожидание сборки для селектора.
func (f *FileRecord) PendingFor(selector string) (PendingCopy, bool) {
	p, ok := f.Pending[selector]
	return p, ok
}

// Downloadable — у файла есть хотя бы одна опубликованная копия.
func (f *FileRecord) Downloadable() bool {
	return len(f.Copies) > 0
}

// BlobKeys возвращает ключи всех опубликованных копий.
func (f *FileRecord) BlobKeys() []string {
	keys := make([]string, 0, len(f.Copies))
	for _, rep := range f.Copies {
		keys = append(keys, rep.Key)
	}
	slices.Sort(keys)
	return keys
}

// Clone возвращает глубокую копию записи. Хранилища метаданных
// отдают клоны, чтобы вызывающий код не менял общее состояние.
func (f *FileRecord) Clone() *FileRecord {
	c := *f
	c.Copies = make(map[string]Representation, len(f.Copies))
	for k, v := range f.Copies {
		c.Copies[k] = v
	}
	if f.Pending != nil {
		c.Pending = make(map[string]PendingCopy, len(f.Pending))
		for k, v := range f.Pending {
			c.Pending[k] = v
		}
	}
	return &c
}

// ByteRange — закрытый интервал [Start, End]. nil-границы не заданы.
type ByteRange struct {
	Start *int64
	End   *int64
}

// IsFull — диапазон не задан, отдаётся вся копия.
func (r ByteRange) IsFull() bool {
	return r.Start == nil && r.End == nil
}

// SaveResult — результат записи содержимого в blob-хранилище.
type SaveResult struct {
	// Key — ключ содержимого
	Key string
	// Size — длина записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}
