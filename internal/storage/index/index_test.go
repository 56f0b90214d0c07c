package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
	"github.com/bigkaa/goartstore/access-point/internal/storage/attr"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testRecord(collection, id string) *model.FileRecord {
	now := time.Now().UTC()
	return &model.FileRecord{
		ID:         id,
		Collection: collection,
		Owner:      "alice",
		Copies:     map[string]model.Representation{},
		Pending: map[string]model.PendingCopy{
			model.MasterCopy: {Name: id + ".txt", Size: 10},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newLoaded(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s := New(dir, testLogger())
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s, dir
}

// TestNew проверяет состояние пустого индекса.
func TestNew(t *testing.T) {
	s := New(t.TempDir(), testLogger())
	if s.IsReady() {
		t.Error("новый индекс не должен быть ready")
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.IsReady() {
		t.Error("после Load индекс должен быть ready")
	}
}

// TestInsertAndGet проверяет запись в индекс и на диск.
func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s, dir := newLoaded(t)

	if err := s.Insert(ctx, testRecord("files", "f1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := os.Stat(attr.FilePath(dir, "files", "f1")); err != nil {
		t.Errorf("attr.json не создан: %v", err)
	}

	got, err := s.Get(ctx, "files", "f1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Owner != "alice" {
		t.Errorf("Owner: ожидалось alice, получено %q", got.Owner)
	}

	// тот же id в другой коллекции — другой файл
	if _, err := s.Get(ctx, "images", "f1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound для другой коллекции, получено %v", err)
	}
}

// TestInsert_Conflict проверяет отказ при повторной вставке.
func TestInsert_Conflict(t *testing.T) {
	ctx := context.Background()
	s, _ := newLoaded(t)

	s.Insert(ctx, testRecord("files", "f1"))
	if err := s.Insert(ctx, testRecord("files", "f1")); !errors.Is(err, model.ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получено %v", err)
	}
}

// TestGet_ReturnsCopy проверяет, что изменения результата не влияют на индекс.
func TestGet_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s, _ := newLoaded(t)
	s.Insert(ctx, testRecord("files", "f1"))

	got, _ := s.Get(ctx, "files", "f1")
	got.Copies["x"] = model.Representation{Key: "k"}
	delete(got.Pending, model.MasterCopy)

	again, _ := s.Get(ctx, "files", "f1")
	if len(again.Copies) != 0 || len(again.Pending) != 1 {
		t.Error("Get должен возвращать копию, а не ссылку")
	}
}

// TestUpdate проверяет публикацию копии и ошибку для отсутствующего файла.
func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s, dir := newLoaded(t)
	s.Insert(ctx, testRecord("files", "f1"))

	rec, _ := s.Get(ctx, "files", "f1")
	rec.Copies[model.MasterCopy] = model.Representation{Name: "f1.txt", Size: 10, Key: "k1"}
	delete(rec.Pending, model.MasterCopy)
	if err := s.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	onDisk, err := attr.Read(attr.FilePath(dir, "files", "f1"))
	if err != nil {
		t.Fatalf("attr.Read: %v", err)
	}
	if onDisk.Copies[model.MasterCopy].Key != "k1" {
		t.Errorf("attr.json не обновлён: %+v", onDisk.Copies)
	}

	if err := s.Update(ctx, testRecord("files", "missing")); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestDelete проверяет удаление из индекса и с диска.
func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, dir := newLoaded(t)
	s.Insert(ctx, testRecord("files", "f1"))

	if err := s.Delete(ctx, "files", "f1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "files", "f1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound после удаления, получено %v", err)
	}
	if _, err := os.Stat(attr.FilePath(dir, "files", "f1")); !os.IsNotExist(err) {
		t.Error("attr.json должен быть удалён")
	}
	if err := s.Delete(ctx, "files", "f1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrNotFound, получено %v", err)
	}
}

// TestCount проверяет подсчёт по коллекциям.
func TestCount(t *testing.T) {
	ctx := context.Background()
	s, _ := newLoaded(t)

	for i := range 3 {
		s.Insert(ctx, testRecord("files", fmt.Sprintf("f%d", i)))
	}
	s.Insert(ctx, testRecord("images", "i1"))

	if n, _ := s.Count(ctx, "files"); n != 3 {
		t.Errorf("files: ожидалось 3, получено %d", n)
	}
	if n, _ := s.Count(ctx, "images"); n != 1 {
		t.Errorf("images: ожидалось 1, получено %d", n)
	}
	if n, _ := s.Count(ctx, "other"); n != 0 {
		t.Errorf("other: ожидалось 0, получено %d", n)
	}
}

// TestLoad_Rebuild проверяет восстановление индекса после рестарта.
func TestLoad_Rebuild(t *testing.T) {
	ctx := context.Background()
	s, dir := newLoaded(t)
	s.Insert(ctx, testRecord("files", "f1"))
	s.Insert(ctx, testRecord("images", "i1"))

	restarted := New(dir, testLogger())
	if err := restarted.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := restarted.Get(ctx, "images", "i1"); err != nil {
		t.Errorf("i1 не восстановлен: %v", err)
	}
	if n, _ := restarted.Count(ctx, "files"); n != 1 {
		t.Errorf("files: ожидалось 1, получено %d", n)
	}
}

// TestConcurrentAccess проверяет потокобезопасность индекса.
func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s, _ := newLoaded(t)

	var wg sync.WaitGroup
	const goroutines = 20

	wg.Add(goroutines)
	for i := range goroutines {
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("f%d", i)
			if err := s.Insert(ctx, testRecord("files", id)); err != nil {
				t.Errorf("Insert %s: %v", id, err)
				return
			}
			_, _ = s.Get(ctx, "files", id)
			_, _ = s.Count(ctx, "files")
		}()
	}
	wg.Wait()

	if n, _ := s.Count(ctx, "files"); n != goroutines {
		t.Errorf("ожидалось %d файлов, получено %d", goroutines, n)
	}
}
