package middleware

import (
	"net/http"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/actorctx"
)

// ActorHeader - заголовок с идентификатором субъекта, проставляется gateway-ем после аутентификации
const ActorHeader = "x-actor-id"

// WithActorID - HTTP middleware: читает заголовок x-actor-id, при отсутствии возвращает 401, иначе кладёт actor в context
func WithActorID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(ActorHeader)
		if actor == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"kind":"unauthorized","message":"x-actor-id header is required"}}` + "\n"))
			return
		}
		ctx := actorctx.WithActorID(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
