// Пакет wal — журнал транзакций Access Point: публикация копии и
// удаление файла записываются до изменения хранилищ.
// Файл транзакции — {tx_id}.wal.json в AP_WAL_DIR.
package wal

import (
	"log/slog"
	"time"
)

// OperationType — вид операции в журнале.
type OperationType string

const (
	// OpFilePromote — публикация собранной копии: blob, затем дескриптор
	OpFilePromote OperationType = "file_promote"
	// OpFileDelete — удаление файла со всеми копиями
	OpFileDelete OperationType = "file_delete"
)

// TransactionStatus — состояние транзакции.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

const fileSuffix = ".wal.json"

// Entry — транзакция журнала.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`
	Collection    string            `json:"collection"`
	FileID        string            `json:"file_id"`
	// Selector — публикуемая копия, только для file_promote
	Selector string `json:"selector,omitempty"`
	// Keys — blob-ключи: новый ключ копии для file_promote,
	// все ключи файла для file_delete
	Keys      []string  `json:"keys,omitempty"`
	StartedAt time.Time `json:"started_at"`
	// CompletedAt — nil, пока транзакция pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LogValue — группа полей транзакции для slog.
func (e *Entry) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", e.TransactionID),
		slog.String("op", string(e.Operation)),
		slog.String("status", string(e.Status)),
		slog.String("collection", e.Collection),
		slog.String("file_id", e.FileID),
	}
	if e.Selector != "" {
		attrs = append(attrs, slog.String("copy", e.Selector))
	}
	return slog.GroupValue(attrs...)
}

func fileName(txID string) string {
	return txID + fileSuffix
}
