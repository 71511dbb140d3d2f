package actorctx

import (
	"context"
)

type ctxKeyActorID struct{}

var actorIDKey = ctxKeyActorID{}

// WithActorID сохраняет идентификатор субъекта операции (кассир, закупщик, администратор) в контексте
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

// ActorIDFromContext возвращает actor_id из контекста, если он был установлен
func ActorIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorIDKey).(string)
	return id, ok && id != ""
}
