package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{model.NewError(model.ErrBadRequest, "Missing id"), http.StatusBadRequest, CodeValidationError},
		{model.AccessDenied(), http.StatusForbidden, CodeForbidden},
		{model.NewError(model.ErrNotFound, "Not found: f1"), http.StatusNotFound, CodeNotFound},
		{model.NewError(model.ErrConflict, "x"), http.StatusConflict, CodeConflict},
		{model.NewError(model.ErrModeNotAllowed, "x"), http.StatusConflict, CodeModeNotAllowed},
		{model.NewError(model.ErrInvalidRange, "x"), http.StatusRequestedRangeNotSatisfiable, CodeInvalidRange},
		{model.NewError(model.ErrPayloadTooLarge, "x"), http.StatusRequestEntityTooLarge, CodeFileTooLarge},
		{model.NewError(model.ErrStagingWrite, "x"), http.StatusInternalServerError, CodeInternalError},
		{model.NewError(model.ErrPromotion, "x"), http.StatusInternalServerError, CodeInternalError},
		{model.NewError(model.ErrRemoval, "x"), http.StatusInternalServerError, CodeInternalError},
		{stderrors.New("boom"), http.StatusInternalServerError, CodeInternalError},
		// вид причины не влияет на статус: решает внешняя ошибка
		{model.WrapError(model.ErrPromotion, model.NewError(model.ErrNotFound, "Upload session expired"), "Failed to promote"),
			http.StatusInternalServerError, CodeInternalError},
		{fmt.Errorf("upload: %w", model.NewError(model.ErrConflict, "x")), http.StatusConflict, CodeConflict},
	}

	for _, tt := range tests {
		status, code := Classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("%v: ожидалось %d/%s, получено %d/%s", tt.err, tt.status, tt.code, status, code)
		}
	}
}

func TestFromError_Body(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))

	rec := httptest.NewRecorder()
	FromError(rec, logger, model.AccessDenied())

	if rec.Code != http.StatusForbidden {
		t.Fatalf("ожидался 403, получен %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: %q", ct)
	}

	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("тело ответа: %v", err)
	}
	if body.Error.Code != CodeForbidden || body.Error.Message != "Access denied" {
		t.Errorf("тело ответа: %+v", body)
	}
}

func TestFromError_InternalHidesCause(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))

	rec := httptest.NewRecorder()
	FromError(rec, logger, stderrors.New("open /secret/path: permission denied"))

	var body errorBody
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error.Message != "Внутренняя ошибка сервера" {
		t.Errorf("причина не должна попадать к клиенту: %q", body.Error.Message)
	}
}
