package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/shift-attendance/backend/internal/domain"
)

const RequestIDHeader = "X-Request-ID"

// AuthClaims 由外部的认证服务签发，这里只负责验证
type AuthClaims struct {
	Role  string `json:"role"`
	OrgID int64  `json:"org"`
	jwt.RegisteredClaims
}

// NewToken 签发与 auth 中间件兼容的令牌，供 seed 和测试使用
func NewToken(secret string, actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AuthClaims{
		Role:  string(actor.Role),
		OrgID: actor.OrgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Subject:   strconv.FormatInt(actor.ID, 10),
		},
	})
	return token.SignedString([]byte(secret))
}

type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

func (rw *ResponseWriter) WriteHeader(statusCode int) {
	rw.StatusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), RequestIDCtxKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start)
		slog.Info("已处理请求", "requestID", requestIDFrom(r), "status", rw.StatusCode, "ip", r.RemoteAddr, "method", r.Method, "path", r.URL.Path, "duration", duration)
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.internalServerError(w, r, fmt.Errorf("panic: %v", err))
				stackTrace := string(debug.Stack())
				fmt.Print(stackTrace) // 这里如果用 slog 的话会很乱
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// timeout 为每个请求设置统一的超时时间，超时的请求直接失败，不会自动重试
func (h *Handler) timeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.config.Server.RequestTimeout)*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := h.tokenFrom(r)
		if err != nil {
			h.errorResponse(w, r, domain.ErrUnauthorized)
			return
		}

		// 验证 token
		claims := &AuthClaims{}
		_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(h.config.JWT.Secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			h.errorResponse(w, r, domain.ErrUnauthorized)
			return
		}

		sub, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || claims.OrgID <= 0 {
			h.errorResponse(w, r, domain.ErrUnauthorized)
			return
		}

		// 将调用者附在 context 中
		actor := domain.Actor{ID: sub, OrgID: claims.OrgID, Role: domain.Role(claims.Role)}
		ctx := context.WithValue(r.Context(), ActorCtxKey, actor)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenFrom 优先使用 Authorization 头，其次是 cookie
func (h *Handler) tokenFrom(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return "", errors.New("invalid authorization header")
		}
		return token, nil
	}

	cookie, err := r.Cookie(h.config.JWT.CookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
