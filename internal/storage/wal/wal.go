package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotPending — транзакция уже завершена (commit или rollback).
var ErrNotPending = errors.New("wal: транзакция не в статусе pending")

const writeCheckName = ".write_check"

// WAL — журнал транзакций публикации и удаления копий.
// Транзакция живёт в отдельном файле: pending → committed | rolled_back.
// Незавершённые при остановке транзакции разбираются в collection.Recover.
type WAL struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New открывает журнал в dir, создавая каталог.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("wal: каталог %s: %w", dir, err)
	}
	w := &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}
	if err := w.Writable(); err != nil {
		return nil, err
	}
	return w, nil
}

// Target — объект транзакции.
type Target struct {
	Collection string
	FileID     string
	Selector   string
	Keys       []string
}

// StartTransaction открывает транзакцию op над target.
func (w *WAL) StartTransaction(op OperationType, target Target) (*Entry, error) {
	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		Collection:    target.Collection,
		FileID:        target.FileID,
		Selector:      target.Selector,
		Keys:          target.Keys,
		StartedAt:     time.Now().UTC(),
	}

	w.mu.Lock()
	err := w.store(entry)
	w.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("wal: начало %s: %w", op, err)
	}

	w.logger.Debug("Транзакция открыта", slog.Any("tx", entry))
	return entry, nil
}

// Commit закрывает транзакцию как выполненную.
func (w *WAL) Commit(txID string) error {
	return w.finish(txID, StatusCommitted)
}

// Rollback закрывает транзакцию как отменённую.
func (w *WAL) Rollback(txID string) error {
	return w.finish(txID, StatusRolledBack)
}

func (w *WAL) finish(txID string, status TransactionStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.load(txID)
	if err != nil {
		return err
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("%w: %s → %s (сейчас %s)", ErrNotPending, txID, status, entry.Status)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now
	if err := w.store(entry); err != nil {
		return fmt.Errorf("wal: %s → %s: %w", txID, status, err)
	}

	w.logger.Debug("Транзакция закрыта",
		slog.Any("tx", entry),
		slog.Duration("elapsed", now.Sub(entry.StartedAt)),
	)
	return nil
}

// RecoverPending возвращает незавершённые транзакции.
// Нечитаемые файлы пропускаются с предупреждением.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var pending []*Entry
	err := w.scan(func(_ string, entry *Entry) {
		if entry.Status != StatusPending {
			return
		}
		pending = append(pending, entry)
		w.logger.Warn("Найдена незавершённая транзакция",
			slog.Any("tx", entry),
			slog.Time("started_at", entry.StartedAt),
		)
	})
	return pending, err
}

// GetTransaction читает транзакцию txID.
func (w *WAL) GetTransaction(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.load(txID)
}

// Writable пробует создать файл в каталоге журнала.
func (w *WAL) Writable() error {
	checkPath := filepath.Join(w.dir, writeCheckName)
	if err := os.WriteFile(checkPath, nil, 0o640); err != nil {
		return fmt.Errorf("wal: каталог %s закрыт для записи: %w", w.dir, err)
	}
	return os.Remove(checkPath)
}

// CleanCommitted удаляет файлы завершённых транзакций и возвращает их число.
func (w *WAL) CleanCommitted() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	err := w.scan(func(path string, entry *Entry) {
		if entry.Status == StatusPending {
			return
		}
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Файл транзакции не удалён",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		removed++
	})
	if removed > 0 {
		w.logger.Info("Журнал очищен", slog.Int("removed", removed))
	}
	return removed, err
}

// Dir возвращает каталог журнала.
func (w *WAL) Dir() string {
	return w.dir
}

// scan вызывает fn для каждой читаемой транзакции каталога.
// Вызывается под w.mu.
func (w *WAL) scan(fn func(path string, entry *Entry)) error {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*"+fileSuffix))
	if err != nil {
		return fmt.Errorf("wal: обход %s: %w", w.dir, err)
	}
	for _, path := range paths {
		entry, err := w.load(strings.TrimSuffix(filepath.Base(path), fileSuffix))
		if err != nil {
			w.logger.Warn("Файл транзакции пропущен",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		fn(path, entry)
	}
	return nil
}

// store заменяет файл транзакции целиком: временный файл, fsync,
// rename, fsync каталога.
func (w *WAL) store(entry *Entry) (err error) {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	name := fileName(entry.TransactionID)
	tmp, err := os.CreateTemp(w.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), filepath.Join(w.dir, name)); err != nil {
		return err
	}
	return syncDir(w.dir)
}

func (w *WAL) load(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, fileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("wal: транзакция %s: %w", txID, err)
	}
	entry := new(Entry)
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("wal: транзакция %s повреждена: %w", txID, err)
	}
	return entry, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
