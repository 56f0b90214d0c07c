// Пакет access — двухфазная авторизация операций над файлами.
//
// Для каждого класса разрешений (insert, download, remove) коллекция
// имеет два упорядоченных набора валидаторов: deny и allow.
// Правила:
//   - любой deny-валидатор вернул true → отказ;
//   - ни один allow-валидатор не вернул true → отказ
//     (пустой набор allow запрещает всё);
//   - иначе операция разрешена.
//
// Решение вычисляется заново при каждом вызове и не кэшируется:
// валидаторы могут зависеть от изменяемого внешнего состояния.
package access

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
)

// decisionsTotal — решения AccessGate по классам.
var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ap_access_decisions_total",
		Help: "Количество решений авторизации по классам разрешений",
	},
	[]string{"class", "decision"},
)

// Validator — предикат над актором и дескриптором файла.
type Validator func(actor model.Actor, file *model.FileRecord) bool

// Rules — наборы валидаторов одного класса разрешений.
type Rules struct {
	Deny  []Validator
	Allow []Validator
}

// Decision — результат авторизации.
type Decision bool

const (
	Deny   Decision = false
	Permit Decision = true
)

func (d Decision) String() string {
	if d {
		return "permit"
	}
	return "deny"
}

// Gate — точка принятия решений.
type Gate struct {
	insecure bool
	logger   *slog.Logger
}

// NewGate создаёт Gate. insecure=true отключает проверки для всего
// развёртывания: каждое решение — Permit, валидаторы не вызываются.
func NewGate(insecure bool, logger *slog.Logger) *Gate {
	return &Gate{
		insecure: insecure,
		logger:   logger.With(slog.String("component", "access_gate")),
	}
}

// Insecure возвращает true, если проверки отключены.
func (g *Gate) Insecure() bool {
	return g.insecure
}

// Authorize вычисляет решение для класса class.
func (g *Gate) Authorize(class model.PermissionClass, actor model.Actor, file *model.FileRecord, rules Rules) Decision {
	if g.insecure {
		decisionsTotal.WithLabelValues(string(class), "insecure").Inc()
		return Permit
	}

	decision := evaluate(actor, file, rules)
	decisionsTotal.WithLabelValues(string(class), decision.String()).Inc()

	if decision == Deny {
		g.logger.Debug("Доступ запрещён",
			slog.String("class", string(class)),
			slog.String("actor", actor.ID),
			slog.String("file_id", file.ID),
			slog.String("collection", file.Collection),
		)
	}
	return decision
}

// Check — Authorize, переведённый в ошибку model.ErrAccessDenied.
func (g *Gate) Check(class model.PermissionClass, actor model.Actor, file *model.FileRecord, rules Rules) error {
	if g.Authorize(class, actor, file, rules) == Deny {
		return model.AccessDenied()
	}
	return nil
}

// evaluate — две фазы: deny с коротким замыканием, затем allow.
func evaluate(actor model.Actor, file *model.FileRecord, rules Rules) Decision {
	for _, v := range rules.Deny {
		if v(actor, file) {
			return Deny
		}
	}
	for _, v := range rules.Allow {
		if v(actor, file) {
			return Permit
		}
	}
	return Deny
}
