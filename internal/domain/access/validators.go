// validators.go — именованные валидаторы, доступные в файле политики.
package access

import (
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// Anyone — всегда true.
func Anyone(model.Actor, *model.FileRecord) bool { return true }

// Authenticated — актор прошёл JWT-аутентификацию.
func Authenticated(actor model.Actor, _ *model.FileRecord) bool { return !actor.IsAnonymous() }

// Anonymous — актор без идентичности.
func Anonymous(actor model.Actor, _ *model.FileRecord) bool { return actor.IsAnonymous() }

// Owner — актор создал файл.
func Owner(actor model.Actor, file *model.FileRecord) bool {
	return !actor.IsAnonymous() && file != nil && actor.ID == file.Owner
}

// ActorIs — актор с указанным sub.
func ActorIs(id string) Validator {
	return func(actor model.Actor, _ *model.FileRecord) bool {
		return actor.ID == id
	}
}

// HasScope — у актора есть scope.
func HasScope(scope string) Validator {
	return func(actor model.Actor, _ *model.FileRecord) bool {
		return actor.HasScope(scope)
	}
}

// ParseRule преобразует имя правила из файла политики в валидатор.
// Формы: anyone, authenticated, anonymous, owner, actor:<id>, scope:<scope>.
func ParseRule(rule string) (Validator, error) {
	switch rule {
	case "anyone":
		return Anyone, nil
	case "authenticated":
		return Authenticated, nil
	case "anonymous":
		return Anonymous, nil
	case "owner":
		return Owner, nil
	}

	kind, arg, ok := strings.Cut(rule, ":")
	if !ok || arg == "" {
		return nil, fmt.Errorf("неизвестное правило %q", rule)
	}
	switch kind {
	case "actor":
		return ActorIs(arg), nil
	case "scope":
		return HasScope(arg), nil
	default:
		return nil, fmt.Errorf("неизвестное правило %q", rule)
	}
}
