package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drazan/huddle/internal/adapters/chat"
	"github.com/drazan/huddle/internal/adapters/signal"
	"github.com/drazan/huddle/internal/app"
	"github.com/drazan/huddle/internal/app/orch"
	"github.com/drazan/huddle/internal/app/sfu"
	"github.com/drazan/huddle/internal/config"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:       "test",
		StaticPath: t.TempDir(),
		Secret:     "test-secret",
	}
	o := &orch.Orchestrator{Registry: app.NewRegistry(), Pubs: sfu.NewPublications()}
	offers := signal.NewOfferController(o)
	chatGW := chat.NewGateway(nil, 0)
	return SetupRouter(context.Background(), cfg, offers, chatGW)
}

func TestClientTokenMiddlewareSetsCookie(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pcs", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" {
			found = true
			assert.NotEmpty(t, c.Value)
			assert.True(t, c.HttpOnly)
		}
	}
	assert.True(t, found, "ct cookie must be issued to new clients")
}

func TestClientTokenMiddlewareKeepsExistingToken(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pcs", nil)
	req.AddCookie(&http.Cookie{Name: "ct", Value: "existing-token"})
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	for _, c := range w.Result().Cookies() {
		assert.NotEqual(t, "ct", c.Name, "existing token must not be reissued")
	}
}

func TestOfferRouteWired(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader(`{}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_offer")
}

func TestSessionListRouteWired(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pcs", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
