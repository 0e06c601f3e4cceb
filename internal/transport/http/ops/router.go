package opshttp

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"ufxgate/internal/gateway"
)

// StateView is the read side the router needs; implemented by the app's
// event store.
type StateView interface {
	Session() gateway.ConnectionStatus
	Orders() []gateway.Order
	Order(localID uint64) (gateway.Order, bool)
	Trades(limit int) []gateway.Trade
	Tick(symbol string) (gateway.MarketTick, bool)
	Account() *gateway.Account
	Positions() []gateway.Position
}

// Router wires the ops endpoints to the gateway and its state snapshot.
type Router struct {
	gw    gateway.Gateway
	state StateView
}

func NewRouter(gw gateway.Gateway, state StateView) (*Router, error) {
	if gw == nil || state == nil {
		return nil, errors.New("ops router requires gateway and state")
	}
	return &Router{gw: gw, state: state}, nil
}

// Register mounts the routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/status", r.handleStatus)
	group.GET("/orders", r.handleOrders)
	group.GET("/orders/:id", r.handleOrder)
	group.POST("/orders", r.handleSubmit)
	group.POST("/orders/:id/cancel", r.handleCancel)
	group.GET("/trades", r.handleTrades)
	group.GET("/ticks/:symbol", r.handleTick)
	group.GET("/account", r.handleAccount)
	group.GET("/positions", r.handlePositions)
	group.POST("/queries", r.handleQuery)
}

func (r *Router) handleStatus(c *gin.Context) {
	st := r.state.Session()
	c.JSON(http.StatusOK, gin.H{
		"gateway": r.gw.Name(),
		"state":   r.gw.State(),
		"reason":  st.Reason,
		"fatal":   st.Fatal,
	})
}

func (r *Router) handleOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": r.state.Orders()})
}

func (r *Router) handleOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	o, ok := r.state.Order(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

// submitPayload is the order entry schema.
type submitPayload struct {
	Symbol   string `json:"symbol" binding:"required"`
	Exchange string `json:"exchange" binding:"required"`
	Side     string `json:"side" binding:"required"`
	Type     string `json:"type"`
	Price    string `json:"price"`
	Quantity string `json:"quantity" binding:"required"`
}

func (r *Router) handleSubmit(c *gin.Context) {
	var p submitPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.Type == "" {
		p.Type = string(gateway.OrderTypeLimit)
	}
	price := decimal.Zero
	if p.Price != "" {
		var err error
		price, err = decimal.NewFromString(p.Price)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
			return
		}
	}
	qty, err := decimal.NewFromString(p.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}
	localID, err := r.gw.SubmitOrder(gateway.OrderRequest{
		Symbol:   p.Symbol,
		Exchange: gateway.Exchange(p.Exchange),
		Side:     gateway.Side(p.Side),
		Type:     gateway.OrderType(p.Type),
		Price:    price,
		Quantity: qty,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"local_id": localID})
}

func (r *Router) handleCancel(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	cancelID, err := r.gw.CancelOrder(gateway.CancelRequest{LocalID: id})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancel_id": cancelID})
}

func (r *Router) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, gin.H{"trades": r.state.Trades(limit)})
}

func (r *Router) handleTick(c *gin.Context) {
	tick, ok := r.state.Tick(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tick for symbol"})
		return
	}
	c.JSON(http.StatusOK, tick)
}

func (r *Router) handleAccount(c *gin.Context) {
	acct := r.state.Account()
	if acct == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no account snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (r *Router) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": r.state.Positions()})
}

func (r *Router) handleQuery(c *gin.Context) {
	var p struct {
		Kind string `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	localID, err := r.gw.Query(gateway.QueryKind(p.Kind))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"local_id": localID})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrUnknownOrder):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
