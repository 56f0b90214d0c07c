// Пакет events — публикация событий о файлах в NATS.
// Subject: <prefix>.<collection>.<type>, тело — JSON Event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Type — тип события.
type Type string

const (
	// TypeStored — копия опубликована
	TypeStored Type = "stored"
	// TypeRemoved — файл удалён со всеми копиями
	TypeRemoved Type = "removed"
)

// Event — событие о файле.
type Event struct {
	Type       Type      `json:"type"`
	Collection string    `json:"collection"`
	FileID     string    `json:"file_id"`
	Copy       string    `json:"copy,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher — получатель событий.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop — Publisher без доставки (AP_NATS_URL не задан).
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// NATSPublisher публикует события в core NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher подключается к NATS с бесконечным переподключением.
func NewNATSPublisher(url, prefix, name string, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logger.With(slog.String("component", "events"))

	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS отключён", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS переподключён", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к NATS: %w", err)
	}

	logger.Info("Подключение к NATS установлено", slog.String("url", conn.ConnectedUrl()))
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject возвращает subject события.
func Subject(prefix string, ev Event) string {
	return prefix + "." + ev.Collection + "." + string(ev.Type)
}

// Publish отправляет событие. Ошибка доставки не отменяет операцию
// над файлом, вызывающий код только логирует её.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	if err := p.conn.Publish(Subject(p.prefix, ev), data); err != nil {
		return fmt.Errorf("ошибка публикации события: %w", err)
	}
	return nil
}

// Close отправляет буферизованные сообщения и закрывает соединение.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("Ошибка закрытия NATS", slog.String("error", err.Error()))
	}
}

// Connected — состояние соединения (проверка nats в /health/ready).
func (p *NATSPublisher) Connected() bool {
	return p.conn.IsConnected()
}
