// errors.go — виды ошибок Access Point.
// Ошибки сравниваются с видами через errors.Is, транспорты
// переводят вид в HTTP-статус или gRPC-код.
package model

import (
	"errors"
	"fmt"
)

// Виды ошибок.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrNotFound        = errors.New("not found")
	ErrAccessDenied    = errors.New("access denied")
	ErrConflict        = errors.New("conflict")
	ErrInvalidRange    = errors.New("invalid range")
	ErrModeNotAllowed  = errors.New("mode not allowed")
	ErrStagingWrite    = errors.New("staging write failure")
	ErrPromotion       = errors.New("promotion failure")
	ErrRemoval         = errors.New("removal failure")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// AccessDeniedMessage — единственное сообщение, которое получает клиент при отказе.
const AccessDeniedMessage = "Access denied"

// Error — ошибка операции с видом, сообщением для клиента и внутренней причиной.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is сопоставляет ошибку с её видом.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Unwrap возвращает внутреннюю причину.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создаёт ошибку вида kind с форматированным сообщением.
func NewError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError создаёт ошибку вида kind с внутренней причиной.
func WrapError(kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// AccessDenied — непрозрачный отказ, без подробностей политики.
func AccessDenied() *Error {
	return &Error{Kind: ErrAccessDenied, Message: AccessDeniedMessage}
}

// KindOf возвращает вид внешней ошибки операции. Виды причин, обёрнутых
// WrapError, не учитываются. Для ошибок без вида — nil.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// MessageOf возвращает сообщение для клиента. Для ошибок без вида — пустая строка.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
