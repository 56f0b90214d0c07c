// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/access-point/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// IndexReadinessChecker — интерфейс для проверки готовности индекса.
type IndexReadinessChecker interface {
	IsReady() bool
}

// DatabaseChecker — проверка подключения к PostgreSQL (postgres.ReadinessChecker).
type DatabaseChecker interface {
	CheckReady() (status string, message string)
}

// EventsChecker — состояние соединения публикации событий (events.NATSPublisher).
type EventsChecker interface {
	Connected() bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dirs — проверяемые на запись директории: имя проверки → путь
	dirs map[string]string
	// idx — индекс метаданных (fs backend), nil для postgres
	idx IndexReadinessChecker
	// db — проверка PostgreSQL, nil для fs backend
	db DatabaseChecker
	// events — NATS; не критична, на статус ответа не влияет
	events EventsChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// dirs — директории, доступность которых на запись проверяет /health/ready
// (data, temp, wal). idx и db могут быть nil.
func NewHealthHandler(dirs map[string]string, idx IndexReadinessChecker, db DatabaseChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dirs:    dirs,
		idx:     idx,
		db:      db,
	}
}

// WithEvents добавляет в /health/ready проверку соединения NATS.
func (h *HealthHandler) WithEvents(ev EventsChecker) *HealthHandler {
	h.events = ev
	return h
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "access-point",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директории на запись, готовность индекса, PostgreSQL.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK
	fail := func() {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	checks := make(map[string]any, len(h.dirs)+2)
	for name, dir := range h.dirs {
		check := checkWritable(dir)
		checks[name] = check
		if check["status"] != "ok" {
			fail()
		}
	}

	if h.idx != nil {
		if h.idx.IsReady() {
			checks["index"] = map[string]any{"status": "ok"}
		} else {
			checks["index"] = map[string]any{"status": statusFail, "message": "Индекс не загружен"}
			fail()
		}
	}

	if h.db != nil {
		status, message := h.db.CheckReady()
		checks["postgresql"] = map[string]any{"status": status, "message": message}
		if status != "ok" {
			fail()
		}
	}

	if h.events != nil {
		if h.events.Connected() {
			checks["nats"] = map[string]any{"status": "ok"}
		} else {
			checks["nats"] = map[string]any{"status": statusFail, "message": "Нет соединения с NATS"}
		}
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "access-point",
		"checks":    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir string) map[string]any {
	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
