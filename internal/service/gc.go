// gc.go — фоновая очистка staging-директории.
//
// Брошенные сессии сборки вытесняются из таблицы сессий по TTL вместе
// со staging-файлом. StagingGC удаляет staging-файлы без живой сессии:
// оставшиеся после рестарта процесса или после сбоя удаления.
//
// Запускается как горутина с периодическим тикером (AP_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/access-point/internal/storage/tempstore"
)

// Prometheus метрики GC
var (
	// gcRunsTotal — количество запусков GC.
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ap_gc_runs_total",
		Help: "Общее количество запусков очистки staging",
	})

	// gcFilesDeletedTotal — количество удалённых осиротевших staging-файлов.
	gcFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ap_gc_files_deleted_total",
		Help: "Общее количество staging-файлов, удалённых GC",
	})

	// gcDurationSeconds — длительность выполнения GC.
	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ap_gc_duration_seconds",
		Help:    "Длительность очистки staging в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// DeletedCount — количество удалённых staging-файлов
	DeletedCount int
	// Errors — количество ошибок
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// StagingGC — сервис фоновой очистки staging-директории.
type StagingGC struct {
	temp *tempstore.Store
	// grace — минимальный возраст осиротевшего файла; защищает файлы,
	// сессия которых создаётся прямо сейчас
	grace    time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStagingGC создаёт сервис GC.
func NewStagingGC(temp *tempstore.Store, grace, interval time.Duration, logger *slog.Logger) *StagingGC {
	return &StagingGC{
		temp:     temp,
		grace:    grace,
		interval: interval,
		logger:   logger.With(slog.String("component", "gc")),
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
// Вызывается один раз при старте приложения.
func (gc *StagingGC) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.done = make(chan struct{})

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
	)
}

// Stop останавливает фоновый процесс GC и ждёт завершения текущего прохода.
func (gc *StagingGC) Stop() {
	if gc.cancel == nil {
		return
	}
	gc.cancel()
	<-gc.done
	gc.logger.Info("GC остановлен")
}

// run — основной цикл фоновой горутины.
func (gc *StagingGC) run(ctx context.Context) {
	defer close(gc.done)

	// Первый запуск — сразу после старта
	gc.RunOnce()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл GC.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (gc *StagingGC) RunOnce() *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}

	deleted, err := gc.temp.Sweep(gc.grace)
	if err != nil {
		result.Errors++
		gc.logger.Error("GC: ошибка очистки staging",
			slog.String("dir", gc.temp.Dir()),
			slog.String("error", err.Error()),
		)
	}
	result.DeletedCount = deleted
	result.Duration = time.Since(start)

	gcRunsTotal.Inc()
	gcFilesDeletedTotal.Add(float64(deleted))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("GC завершён",
		slog.Int("deleted", result.DeletedCount),
		slog.Int("sessions", gc.temp.Len()),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}
