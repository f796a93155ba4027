package mdapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/quantedge/mdcore/internal/book"
	"github.com/quantedge/mdcore/internal/pool"
	"github.com/quantedge/mdcore/internal/ringbuffer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testJWTSecret = "test-secret"

func signedTestToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

func newTestServer() (*Server, *book.OrderBook) {
	logger := zap.NewNop()
	levels := pool.NewLevels(64)
	bk := book.New("BTC-USD", "fake", "fake-provider", 2, 4, 50, levels, nil, nil)

	books := func(provider, symbol string) (*book.OrderBook, bool) {
		if provider == "fake" && symbol == "BTC-USD" {
			return bk, true
		}
		return nil, false
	}
	lags := func(consumerName string) (uint64, float64, ringbuffer.HealthState, bool) {
		if consumerName == "derivation" {
			return 10, 0.05, ringbuffer.HealthHealthy, true
		}
		return 0, 0, 0, false
	}

	srv := New(Config{Addr: ":0", Environment: "test", JWTSecret: testJWTSecret}, books, lags, logger)
	return srv, bk
}

func TestHealthzDoesNotRequireAuth(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBookSnapshotRequiresBearerToken(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books/fake/BTC-USD", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBookSnapshotRejectsMalformedToken(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books/fake/BTC-USD", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBookSnapshotReturnsEmptyBookState(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books/fake/BTC-USD", nil)
	req.Header.Set("Authorization", "Bearer "+signedTestToken(t))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp snapshotDTO
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fake", resp.Provider)
	assert.Equal(t, "BTC-USD", resp.Symbol)
	assert.Equal(t, "empty", resp.State)
	assert.Empty(t, resp.Bids)
	assert.Empty(t, resp.Asks)
}

func TestBookSnapshotUnknownPairIsNotFound(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books/other/ETH-USD", nil)
	req.Header.Set("Authorization", "Bearer "+signedTestToken(t))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConsumerLagReturnsKnownConsumer(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consumers/derivation/lag", nil)
	req.Header.Set("Authorization", "Bearer "+signedTestToken(t))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp lagDTO
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "derivation", resp.Consumer)
	assert.Equal(t, uint64(10), resp.Lag)
	assert.Equal(t, "healthy", resp.Health)
}

func TestConsumerLagUnknownConsumerIsNotFound(t *testing.T) {
	srv, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consumers/nonexistent/lag", nil)
	req.Header.Set("Authorization", "Bearer "+signedTestToken(t))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
