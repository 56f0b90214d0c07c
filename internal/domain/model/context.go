package model

import (
	"context"
	"regexp"
)

type actorKey struct{}

// WithActor сохраняет актора запроса в контексте.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom возвращает актора из контекста; анонимного, если он не задан.
func ActorFrom(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey{}).(Actor)
	return actor
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]{0,127}$`)

// ValidName проверяет идентификатор файла, селектор или имя коллекции:
// латиница, цифры, '.', '_', '-', до 128 символов, без ведущей точки и дефиса.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}
