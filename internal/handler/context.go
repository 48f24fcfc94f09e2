package handler

import (
	"net/http"

	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

type ContextKey string

var (
	ActorCtxKey     ContextKey = "actor"
	RequestIDCtxKey ContextKey = "requestID"
)

func actorFrom(r *http.Request) domain.Actor {
	return r.Context().Value(ActorCtxKey).(domain.Actor)
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(RequestIDCtxKey).(string)
	return id
}
