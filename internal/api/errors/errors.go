// Пакет errors — ответы с ошибками в формате Artstore.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeConflict             = "CONFLICT"
	CodeModeNotAllowed       = "MODE_NOT_ALLOWED"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeInvalidRange         = "INVALID_RANGE"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате Artstore.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// Classify переводит ошибку операции в HTTP-статус и код.
// Решает вид внешней ошибки; ошибки без вида считаются внутренними.
func Classify(err error) (int, string) {
	switch model.KindOf(err) {
	case model.ErrBadRequest:
		return http.StatusBadRequest, CodeValidationError
	case model.ErrAccessDenied:
		return http.StatusForbidden, CodeForbidden
	case model.ErrNotFound:
		return http.StatusNotFound, CodeNotFound
	case model.ErrConflict:
		return http.StatusConflict, CodeConflict
	case model.ErrModeNotAllowed:
		return http.StatusConflict, CodeModeNotAllowed
	case model.ErrInvalidRange:
		return http.StatusRequestedRangeNotSatisfiable, CodeInvalidRange
	case model.ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge, CodeFileTooLarge
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// FromError записывает ответ для ошибки операции. Для 5xx клиент
// получает только сообщение вида, причина пишется в лог.
func FromError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, code := Classify(err)
	message := model.MessageOf(err)

	if status >= http.StatusInternalServerError {
		logger.Error("Ошибка выполнения операции", slog.String("error", err.Error()))
		if message == "" {
			message = "Внутренняя ошибка сервера"
		}
	}
	WriteError(w, status, code, message)
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// InvalidTransition — 409 недопустимый переход между режимами.
func InvalidTransition(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeInvalidTransition, message)
}

// ConfirmationRequired — 409 обратный переход требует подтверждения.
func ConfirmationRequired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConfirmationRequired, message)
}

// FileTooLarge — 413 тело запроса превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// MethodNotAllowed — 405 метод не поддерживается маршрутом.
func MethodNotAllowed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
