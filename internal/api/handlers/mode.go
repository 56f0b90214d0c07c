// mode.go — обработчик POST /api/v1/mode/transition.
// Смена режима работы точки доступа (rw→ro, ro→rw с confirm).
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/access-point/internal/api/errors"
	"github.com/bigkaa/goartstore/access-point/internal/domain/mode"
	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// ModeTransitionRequest — тело запроса смены режима.
type ModeTransitionRequest struct {
	TargetMode string `json:"target_mode"`
	Confirm    *bool  `json:"confirm,omitempty"`
}

// ModeTransitionResponse — результат смены режима.
type ModeTransitionResponse struct {
	PreviousMode   mode.ServiceMode `json:"previous_mode"`
	CurrentMode    mode.ServiceMode `json:"current_mode"`
	TransitionedAt time.Time        `json:"transitioned_at"`
}

// ModeHandler — обработчик endpoint смены режима.
type ModeHandler struct {
	sm     *mode.StateMachine
	logger *slog.Logger
}

// NewModeHandler создаёт обработчик смены режима.
func NewModeHandler(sm *mode.StateMachine, logger *slog.Logger) *ModeHandler {
	return &ModeHandler{
		sm:     sm,
		logger: logger.With(slog.String("component", "mode_handler")),
	}
}

// TransitionMode обрабатывает POST /api/v1/mode/transition.
// Требует scope ap:admin (проверяется middleware.RequireScope).
func (h *ModeHandler) TransitionMode(w http.ResponseWriter, r *http.Request) {
	var req ModeTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	subject := model.ActorFrom(r.Context()).ID
	targetMode := mode.ServiceMode(req.TargetMode)
	previousMode := h.sm.CurrentMode()

	confirm := false
	if req.Confirm != nil {
		confirm = *req.Confirm
	}

	if err := h.sm.TransitionTo(targetMode, confirm, subject); err != nil {
		var transErr *mode.TransitionError
		if stderrors.As(err, &transErr) {
			switch transErr.Code {
			case errors.CodeConfirmationRequired:
				errors.ConfirmationRequired(w, transErr.Message)
			default:
				errors.InvalidTransition(w, transErr.Message)
			}
			return
		}
		errors.InternalError(w, "Ошибка смены режима")
		return
	}

	now := time.Now().UTC()
	h.logger.Info("Режим изменён",
		slog.String("from", string(previousMode)),
		slog.String("to", string(targetMode)),
		slog.String("subject", subject),
		slog.Time("at", now),
	)

	writeJSON(w, http.StatusOK, ModeTransitionResponse{
		PreviousMode:   previousMode,
		CurrentMode:    targetMode,
		TransitionedAt: now,
	})
}
