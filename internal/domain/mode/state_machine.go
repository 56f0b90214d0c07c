// Пакет mode — режим работы Access Point.
//
// rw — все операции; ro — только скачивание.
// Переход rw → ro выполняется свободно, обратный ro → rw
// требует явного подтверждения (confirm: true).
//
// Потокобезопасен через sync.RWMutex.
package mode

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// ServiceMode — режим работы.
type ServiceMode string

const (
	// ModeRW — чтение и запись
	ModeRW ServiceMode = "rw"
	// ModeRO — только чтение
	ModeRO ServiceMode = "ro"
)

// Operation — операция над файлами.
type Operation string

const (
	OpInsert   Operation = "insert"
	OpUpload   Operation = "upload"
	OpDownload Operation = "download"
	OpRemove   Operation = "remove"
)

// TransitionRecord — запись о переходе между режимами.
type TransitionRecord struct {
	From      ServiceMode `json:"from"`
	To        ServiceMode `json:"to"`
	Subject   string      `json:"subject"`
	Timestamp time.Time   `json:"timestamp"`
}

// StateMachine — режим работы с историей переходов.
type StateMachine struct {
	mu      sync.RWMutex
	current ServiceMode
	history []TransitionRecord
}

var validTransitions = map[ServiceMode]map[ServiceMode]bool{
	ModeRW: {ModeRO: true},
	ModeRO: {ModeRW: true},
}

var allowedOperations = map[ServiceMode]map[Operation]bool{
	ModeRW: {OpInsert: true, OpUpload: true, OpDownload: true, OpRemove: true},
	ModeRO: {OpDownload: true},
}

var needsConfirmation = map[ServiceMode]map[ServiceMode]bool{
	ModeRO: {ModeRW: true},
}

// NewStateMachine создаёт автомат с начальным режимом.
func NewStateMachine(initial ServiceMode) (*StateMachine, error) {
	if !isValidMode(initial) {
		return nil, fmt.Errorf("недопустимый начальный режим: %q", initial)
	}
	return &StateMachine{current: initial}, nil
}

// CurrentMode возвращает текущий режим.
func (sm *StateMachine) CurrentMode() ServiceMode {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransitionTo проверяет допустимость перехода без учёта confirm.
func (sm *StateMachine) CanTransitionTo(target ServiceMode) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return validTransitions[sm.current][target]
}

// NeedsConfirmation — true для ro → rw.
func (sm *StateMachine) NeedsConfirmation(target ServiceMode) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return needsConfirmation[sm.current][target]
}

// TransitionTo выполняет переход. subject — sub инициатора.
//
// Ошибки:
//   - INVALID_TRANSITION — переход недопустим
//   - CONFIRMATION_REQUIRED — требуется confirm: true
func (sm *StateMachine) TransitionTo(target ServiceMode, confirm bool, subject string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !isValidMode(target) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("недопустимый целевой режим: %q", target),
		}
	}
	if !validTransitions[sm.current][target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", sm.current, target),
		}
	}
	if needsConfirmation[sm.current][target] && !confirm {
		return &TransitionError{
			Code: "CONFIRMATION_REQUIRED",
			Message: fmt.Sprintf("обратный переход %s → %s требует подтверждения (confirm: true)",
				sm.current, target),
		}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
	})
	sm.current = target
	return nil
}

// AllowedOperations возвращает отсортированный список операций текущего режима.
func (sm *StateMachine) AllowedOperations() []Operation {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ops := allowedOperations[sm.current]
	result := make([]Operation, 0, len(ops))
	for op := range ops {
		result = append(result, op)
	}
	slices.Sort(result)
	return result
}

// CanPerform проверяет, допустима ли операция в текущем режиме.
func (sm *StateMachine) CanPerform(op Operation) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return allowedOperations[sm.current][op]
}

// Require — CanPerform в виде ошибки model.ErrModeNotAllowed.
func (sm *StateMachine) Require(op Operation) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if allowedOperations[sm.current][op] {
		return nil
	}
	return model.NewError(model.ErrModeNotAllowed,
		"операция %s недоступна в режиме %s", op, sm.current)
}

// History возвращает копию истории переходов.
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Clone(sm.history)
}

// TransitionError — ошибка перехода между режимами.
type TransitionError struct {
	Code    string // INVALID_TRANSITION, CONFIRMATION_REQUIRED
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func isValidMode(m ServiceMode) bool {
	return m == ModeRW || m == ModeRO
}

// ParseMode преобразует строку в ServiceMode.
func ParseMode(s string) (ServiceMode, error) {
	m := ServiceMode(s)
	if !isValidMode(m) {
		return "", fmt.Errorf("недопустимый режим: %q, допустимые: rw, ro", s)
	}
	return m, nil
}
