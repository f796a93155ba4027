package mdmetrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestModuleExposesMetricsEndpoint(t *testing.T) {
	logger := zap.NewNop()
	addr := "127.0.0.1:19091"

	app := fxtest.New(t,
		fx.Supply(logger),
		fx.Supply(Config{Addr: addr}),
		Module,
	)
	app.RequireStart()
	defer app.RequireStop()

	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
