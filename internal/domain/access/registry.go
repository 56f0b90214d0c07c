package access

import (
	"fmt"
	"slices"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// ValidatorSet — правила коллекции по классам разрешений.
type ValidatorSet map[model.PermissionClass]Rules

// Registry — неизменяемый после построения реестр правил коллекций.
type Registry struct {
	sets map[string]ValidatorSet
}

// NewRegistry создаёт реестр из набора правил коллекций.
// Карта копируется; последующие изменения аргумента не влияют на реестр.
func NewRegistry(sets map[string]ValidatorSet) *Registry {
	copied := make(map[string]ValidatorSet, len(sets))
	for name, set := range sets {
		cs := make(ValidatorSet, len(set))
		for class, rules := range set {
			cs[class] = Rules{
				Deny:  append([]Validator(nil), rules.Deny...),
				Allow: append([]Validator(nil), rules.Allow...),
			}
		}
		copied[name] = cs
	}
	return &Registry{sets: copied}
}

// Rules возвращает правила коллекции для класса.
// Для незарегистрированной коллекции или класса — пустые Rules (отказ).
func (r *Registry) Rules(collection string, class model.PermissionClass) Rules {
	set, ok := r.sets[collection]
	if !ok {
		return Rules{}
	}
	return set[class]
}

// Collections возвращает отсортированные имена зарегистрированных коллекций.
func (r *Registry) Collections() []string {
	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RuleNames — имена правил одного класса в файле политики.
type RuleNames struct {
	Deny  []string
	Allow []string
}

// CompileSet строит ValidatorSet из имён правил.
// Класс без записи получает пустые Rules, то есть запрещён.
func CompileSet(names map[model.PermissionClass]RuleNames) (ValidatorSet, error) {
	set := make(ValidatorSet, len(names))
	for class, rn := range names {
		if !isKnownClass(class) {
			return nil, fmt.Errorf("неизвестный класс разрешений %q", class)
		}
		var rules Rules
		for _, name := range rn.Deny {
			v, err := ParseRule(name)
			if err != nil {
				return nil, fmt.Errorf("%s.deny: %w", class, err)
			}
			rules.Deny = append(rules.Deny, v)
		}
		for _, name := range rn.Allow {
			v, err := ParseRule(name)
			if err != nil {
				return nil, fmt.Errorf("%s.allow: %w", class, err)
			}
			rules.Allow = append(rules.Allow, v)
		}
		set[class] = rules
	}
	return set, nil
}

func isKnownClass(class model.PermissionClass) bool {
	for _, c := range model.PermissionClasses {
		if c == class {
			return true
		}
	}
	return false
}
