package http

import (
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/questline-backend/internal/domain"
	gamedomain "github.com/yungbote/questline-backend/internal/domain/gamification"
	httpH "github.com/yungbote/questline-backend/internal/http/handlers"
	httpMW "github.com/yungbote/questline-backend/internal/http/middleware"
	"github.com/yungbote/questline-backend/internal/platform/httpx"
	"github.com/yungbote/questline-backend/internal/platform/logger"
	"github.com/yungbote/questline-backend/internal/services"
)

type stubGamification struct {
	services.GamificationService
}

func (stubGamification) AwardXP(_ context.Context, a types.XPAward) (*gamedomain.AwardResult, error) {
	return &gamedomain.AwardResult{Progress: &gamedomain.Progress{UserID: a.UserID, XP: a.Amount}}, nil
}

func (stubGamification) Catalog() []types.Badge { return nil }

func newTestRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService(logger.Nop(), "secret", "", "")
	token, err := auth.IssueToken(services.Identity{UserID: "u1"}, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	r := NewRouter(RouterConfig{
		Service:             "gamification",
		Log:                 logger.Nop(),
		AuthMiddleware:      httpMW.NewAuthMiddleware(logger.Nop(), auth, "svc"),
		GamificationHandler: httpH.NewGamificationHandler(stubGamification{}),
		HealthHandler:       httpH.NewHealthHandler("gamification"),
	})
	return r, token
}

func TestRouterWiring(t *testing.T) {
	r, token := newTestRouter(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		header [2]string
		want   int
	}{
		{"health", nethttp.MethodGet, "/healthcheck", "", [2]string{}, nethttp.StatusOK},
		{"metrics", nethttp.MethodGet, "/metrics", "", [2]string{}, nethttp.StatusOK},
		{"catalog needs auth", nethttp.MethodGet, "/api/gamification/badges", "", [2]string{}, nethttp.StatusUnauthorized},
		{"catalog", nethttp.MethodGet, "/api/gamification/badges", "", [2]string{"Authorization", "Bearer " + token}, nethttp.StatusOK},
		{"internal rejects user token", nethttp.MethodPost, "/api/internal/xp", `{}`, [2]string{"Authorization", "Bearer " + token}, nethttp.StatusUnauthorized},
		{"internal", nethttp.MethodPost, "/api/internal/xp", `{"user_id":"u1","amount":5,"source":"quest","key":"k"}`, [2]string{httpx.HeaderServiceKey, "svc"}, nethttp.StatusOK},
		{"other services unmounted", nethttp.MethodGet, "/api/quests", "", [2]string{"Authorization", "Bearer " + token}, nethttp.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		if tc.body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		if tc.header[0] != "" {
			req.Header.Set(tc.header[0], tc.header[1])
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status %d, want %d (%s)", tc.name, rec.Code, tc.want, rec.Body.String())
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: missing request id header", tc.name)
		}
	}
}
