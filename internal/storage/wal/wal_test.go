package wal

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	return w
}

func promote(id string) Target {
	return Target{Collection: "files", FileID: id, Selector: "_master", Keys: []string{"files/" + id + "/_master/k"}}
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию WAL.
func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание WAL, получена ошибка: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}
	if info, err := os.Stat(walDir); err != nil || !info.IsDir() {
		t.Fatalf("директория WAL не создана: %v", err)
	}
	if err := w.Writable(); err != nil {
		t.Errorf("Writable: %v", err)
	}
}

// TestStartTransaction проверяет поля новой транзакции.
func TestStartTransaction(t *testing.T) {
	w := newWAL(t)

	entry, err := w.StartTransaction(OpFilePromote, promote("f1"))
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	if entry.TransactionID == "" {
		t.Error("TransactionID не должен быть пустым")
	}
	if entry.Operation != OpFilePromote || entry.Status != StatusPending {
		t.Errorf("ожидалась pending file_promote, получено %s/%s", entry.Operation, entry.Status)
	}
	if entry.Collection != "files" || entry.FileID != "f1" || entry.Selector != "_master" {
		t.Errorf("объект транзакции: %+v", entry)
	}
	if entry.CompletedAt != nil {
		t.Error("CompletedAt должен быть nil для pending транзакции")
	}

	stored, err := w.GetTransaction(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if len(stored.Keys) != 1 || stored.Keys[0] != "files/f1/_master/k" {
		t.Errorf("Keys: %v", stored.Keys)
	}
}

// TestCommitAndRollback проверяет завершение транзакций.
func TestCommitAndRollback(t *testing.T) {
	w := newWAL(t)

	tx1, _ := w.StartTransaction(OpFilePromote, promote("f1"))
	if err := w.Commit(tx1.TransactionID); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}
	committed, _ := w.GetTransaction(tx1.TransactionID)
	if committed.Status != StatusCommitted || committed.CompletedAt == nil {
		t.Errorf("после коммита: %s, CompletedAt=%v", committed.Status, committed.CompletedAt)
	}

	tx2, _ := w.StartTransaction(OpFileDelete, Target{Collection: "files", FileID: "f2"})
	if err := w.Rollback(tx2.TransactionID); err != nil {
		t.Fatalf("ошибка rollback: %v", err)
	}
	rolledBack, _ := w.GetTransaction(tx2.TransactionID)
	if rolledBack.Status != StatusRolledBack || rolledBack.CompletedAt == nil {
		t.Errorf("после rollback: %s, CompletedAt=%v", rolledBack.Status, rolledBack.CompletedAt)
	}

	// завершённую транзакцию нельзя завершить повторно
	if err := w.Commit(tx1.TransactionID); !errors.Is(err, ErrNotPending) {
		t.Errorf("повторный коммит: хотели ErrNotPending, получили %v", err)
	}
	if err := w.Rollback(tx1.TransactionID); !errors.Is(err, ErrNotPending) {
		t.Errorf("rollback закоммиченной транзакции: хотели ErrNotPending, получили %v", err)
	}
}

// TestGetTransaction_NotFound проверяет ошибку при несуществующей транзакции.
func TestGetTransaction_NotFound(t *testing.T) {
	w := newWAL(t)

	if _, err := w.GetTransaction("nonexistent-tx-id"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("хотели os.ErrNotExist, получили %v", err)
	}
}

// TestRecoverPending проверяет, что возвращаются только pending записи.
func TestRecoverPending(t *testing.T) {
	w := newWAL(t)

	pending, _ := w.StartTransaction(OpFileDelete, Target{
		Collection: "files", FileID: "f1", Keys: []string{"a", "b"},
	})
	committed, _ := w.StartTransaction(OpFilePromote, promote("f2"))
	w.Commit(committed.TransactionID)
	rolledBack, _ := w.StartTransaction(OpFilePromote, promote("f3"))
	w.Rollback(rolledBack.TransactionID)

	recovered, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("ожидалась 1 pending транзакция, получено %d", len(recovered))
	}
	if recovered[0].TransactionID != pending.TransactionID {
		t.Errorf("ожидался tx_id %s, получен %s", pending.TransactionID, recovered[0].TransactionID)
	}
	if len(recovered[0].Keys) != 2 {
		t.Errorf("ключи удаления должны сохраниться: %v", recovered[0].Keys)
	}
}

// TestCleanCommitted проверяет очистку завершённых WAL-записей.
func TestCleanCommitted(t *testing.T) {
	w := newWAL(t)

	w.StartTransaction(OpFilePromote, promote("f1"))
	tx2, _ := w.StartTransaction(OpFilePromote, promote("f2"))
	w.Commit(tx2.TransactionID)
	tx3, _ := w.StartTransaction(OpFileDelete, Target{Collection: "files", FileID: "f3"})
	w.Rollback(tx3.TransactionID)

	cleaned, err := w.CleanCommitted()
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось 2 очищенных записи, получено %d", cleaned)
	}

	recovered, _ := w.RecoverPending()
	if len(recovered) != 1 {
		t.Errorf("ожидалась 1 pending запись, получено %d", len(recovered))
	}
}

// TestAtomicWrite проверяет, что WAL-файлы записываются атомарно.
func TestAtomicWrite(t *testing.T) {
	w := newWAL(t)

	entry, err := w.StartTransaction(OpFilePromote, promote("f1"))
	if err != nil {
		t.Fatalf("ошибка создания транзакции: %v", err)
	}

	leftovers, _ := filepath.Glob(filepath.Join(w.Dir(), "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("временные файлы не должны оставаться после записи: %v", leftovers)
	}

	data, err := os.ReadFile(filepath.Join(w.Dir(), fileName(entry.TransactionID)))
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	var readEntry Entry
	if err := json.Unmarshal(data, &readEntry); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
}

// TestConcurrentAccess проверяет потокобезопасность WAL.
func TestConcurrentAccess(t *testing.T) {
	w := newWAL(t)

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			entry, err := w.StartTransaction(OpFilePromote, promote("f-concurrent"))
			if err != nil {
				errs <- err
				return
			}
			if err := w.Commit(entry.TransactionID); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("ошибка в горутине: %v", err)
	}
}

// TestRecoverPending_SkipsCorrupted проверяет, что повреждённый файл
// не мешает восстановлению остальных транзакций.
func TestRecoverPending_SkipsCorrupted(t *testing.T) {
	w := newWAL(t)

	entry, _ := w.StartTransaction(OpFilePromote, promote("f1"))
	if err := os.WriteFile(filepath.Join(w.Dir(), fileName("broken")), []byte("{"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	recovered, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if len(recovered) != 1 || recovered[0].TransactionID != entry.TransactionID {
		t.Errorf("восстановлено: %v", recovered)
	}
}

// TestEntry_LogValue проверяет группу полей транзакции в логе.
func TestEntry_LogValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	entry := &Entry{TransactionID: "tx1", Operation: OpFilePromote, Status: StatusPending, Collection: "files", FileID: "f1", Selector: "thumb"}
	logger.Info("x", slog.Any("tx", entry))

	for _, want := range []string{"tx.id=tx1", "tx.op=file_promote", "tx.file_id=f1", "tx.copy=thumb"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("в записи нет %q: %s", want, buf.String())
		}
	}
}
