// system.go — обработчик GET /api/v1/info (информация о точке доступа).
// Публичный endpoint (без аутентификации) для service discovery и мониторинга.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/access-point/internal/config"
	"github.com/bigkaa/goartstore/access-point/internal/domain/mode"
)

// FileCounter — количество файлов коллекции (collection.Engine).
type FileCounter interface {
	Count(ctx context.Context, collection string) (int, error)
}

// SessionCounter — количество активных сессий сборки (tempstore.Store).
type SessionCounter interface {
	Len() int
}

// CollectionInfo — коллекция в ответе /api/v1/info.
type CollectionInfo struct {
	Name     string `json:"name"`
	BasePath string `json:"base_path"`
	Files    int    `json:"files"`
}

// DiskUsage — ёмкость файловой системы директории данных.
type DiskUsage struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// ServiceInfo — ответ /api/v1/info.
type ServiceInfo struct {
	ServiceID         string           `json:"service_id"`
	Version           string           `json:"version"`
	Mode              mode.ServiceMode `json:"mode"`
	AllowedOperations []mode.Operation `json:"allowed_operations"`
	Insecure          bool             `json:"insecure"`
	Collections       []CollectionInfo `json:"collections"`
	UploadSessions    int              `json:"upload_sessions"`
	Disk              *DiskUsage       `json:"disk,omitempty"`
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	sm        *mode.StateMachine
	resources []ResourceConfig
	files     FileCounter
	sessions  SessionCounter
	logger    *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
func NewSystemHandler(
	cfg *config.Config,
	sm *mode.StateMachine,
	resources []ResourceConfig,
	files FileCounter,
	sessions SessionCounter,
	logger *slog.Logger,
) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		sm:        sm,
		resources: resources,
		files:     files,
		sessions:  sessions,
		logger:    logger.With(slog.String("component", "system_handler")),
	}
}

// GetServiceInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetServiceInfo(w http.ResponseWriter, r *http.Request) {
	collections := make([]CollectionInfo, 0, len(h.resources))
	for _, res := range h.resources {
		count, err := h.files.Count(r.Context(), res.Name)
		if err != nil {
			h.logger.Warn("Ошибка подсчёта файлов коллекции",
				slog.String("collection", res.Name),
				slog.String("error", err.Error()),
			)
		}
		collections = append(collections, CollectionInfo{Name: res.Name, BasePath: res.BasePath, Files: count})
	}

	resp := ServiceInfo{
		ServiceID:         h.cfg.ServiceID,
		Version:           config.Version,
		Mode:              h.sm.CurrentMode(),
		AllowedOperations: h.sm.AllowedOperations(),
		Insecure:          h.cfg.Insecure,
		Collections:       collections,
		UploadSessions:    h.sessions.Len(),
	}

	// ёмкость известна только для локальных хранилищ
	if h.cfg.BlobBackend == config.BackendFS {
		total, used, available, err := getDiskUsage(h.cfg.DataDir)
		if err != nil {
			h.logger.Warn("Ошибка получения ёмкости диска", slog.String("error", err.Error()))
		} else {
			resp.Disk = &DiskUsage{TotalBytes: total, UsedBytes: used, AvailableBytes: available}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
