package mdapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantedge/mdcore/internal/pool"
)

// levelDTO is the wire shape of one book level (unscaled for API readability).
type levelDTO struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// snapshotDTO is the response shape for GET /books/:provider/:symbol.
type snapshotDTO struct {
	Provider string     `json:"provider"`
	Symbol   string     `json:"symbol"`
	Sequence uint64     `json:"sequence"`
	State    string     `json:"state"`
	Bids     []levelDTO `json:"bids"`
	Asks     []levelDTO `json:"asks"`
}

func registerBookRoutes(rg *gin.RouterGroup, books BookSource) {
	rg.GET("/books/:provider/:symbol", func(c *gin.Context) {
		provider := c.Param("provider")
		symbol := c.Param("symbol")

		bk, ok := books(provider, symbol)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown (provider, symbol)"})
			return
		}

		bids, asks := bk.TopOfBook(topOfBookDepth(c))
		resp := snapshotDTO{
			Provider: provider,
			Symbol:   symbol,
			Sequence: bk.Sequence(),
			State:    bk.State().String(),
			Bids:     toLevelDTOs(bids, bk.PriceDP, bk.SizeDP),
			Asks:     toLevelDTOs(asks, bk.PriceDP, bk.SizeDP),
		}
		c.JSON(http.StatusOK, resp)
	})
}

func topOfBookDepth(c *gin.Context) int {
	const defaultDepth = 25
	q := c.Query("depth")
	if q == "" {
		return defaultDepth
	}
	n := 0
	for _, r := range q {
		if r < '0' || r > '9' {
			return defaultDepth
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return defaultDepth
	}
	return n
}

func toLevelDTOs(levels []*pool.BookLevel, priceDP, sizeDP uint8) []levelDTO {
	priceScale := pow10f(priceDP)
	sizeScale := pow10f(sizeDP)
	out := make([]levelDTO, len(levels))
	for i, l := range levels {
		out[i] = levelDTO{
			Price: float64(l.Price) / priceScale,
			Size:  float64(l.Size) / sizeScale,
		}
	}
	return out
}

func pow10f(dp uint8) float64 {
	scale := 1.0
	for i := uint8(0); i < dp; i++ {
		scale *= 10
	}
	return scale
}

// lagDTO is the response shape for GET /consumers/:name/lag.
type lagDTO struct {
	Consumer string  `json:"consumer"`
	Lag      uint64  `json:"lag"`
	LagPct   float64 `json:"lag_pct"`
	Health   string  `json:"health"`
}

func registerLagRoutes(rg *gin.RouterGroup, lags LagSource) {
	rg.GET("/consumers/:name/lag", func(c *gin.Context) {
		name := c.Param("name")
		lag, lagPct, state, ok := lags(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown consumer"})
			return
		}
		c.JSON(http.StatusOK, lagDTO{Consumer: name, Lag: lag, LagPct: lagPct, Health: state.String()})
	})
}

// healthHandler reports process liveness. BookSource has no enumeration
// contract (it resolves one (provider, symbol) pair at a time), so this
// reports process-level health only; per-book staleness is visible via
// GET /books/:provider/:symbol's state field.
func healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
