package ufx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ufxgate/internal/config"
	"ufxgate/internal/gateway"
)

type sentMsg struct {
	function int
	reqID    int
	fields   map[string]string
}

type fakeConn struct {
	mu     sync.Mutex
	seq    int
	sent   []sentMsg
	closed bool
}

func (c *fakeConn) SendBizMsg(function int, fields map[string]string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.sent = append(c.sent, sentMsg{function: function, reqID: c.seq, fields: fields})
	return c.seq, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) last(function int) (sentMsg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].function == function {
			return c.sent[i], true
		}
	}
	return sentMsg{}, false
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	// dials numbered failFrom and later are refused; zero disables.
	failFrom int
}

func (d *fakeDialer) Dial(DialConfig, Callback) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failFrom > 0 && d.dials >= d.failFrom {
		return nil, errors.New("dial refused")
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeMD struct {
	rows []Record
}

func (m fakeMD) RealtimeQuotes([]string) ([]Record, error) { return m.rows, nil }

func boolPtr(b bool) *bool { return &b }

func newTestGateway(t *testing.T, md MarketData, mutate func(*config.UFXConfig)) (*Gateway, *fakeDialer, chan gateway.Event) {
	t.Helper()
	cfg := config.UFXConfig{
		BranchNo:          1,
		EntrustWay:        "7",
		FundAccount:       "800038",
		Password:          "123456",
		HeartbeatInterval: time.Hour,
		RequestTimeout:    time.Minute,
		SweepInterval:     time.Hour,
		PollInterval:      0,
		Reconnect: config.ReconnectConfig{
			MaxAttempts: 2,
			BaseDelay:   time.Hour,
			MaxDelay:    time.Hour,
		},
		CancelGuard: boolPtr(false),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	events := make(chan gateway.Event, 256)
	dialer := &fakeDialer{}
	g := New(cfg, dialer, md, gateway.PublisherFunc(func(e gateway.Event) { events <- e }))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = g.Run(ctx) }()
	return g, dialer, events
}

// login drives the gateway to Ready and returns the active fake connection.
func login(t *testing.T, g *Gateway, d *fakeDialer) *fakeConn {
	t.Helper()
	require.NoError(t, g.Connect())
	var c *fakeConn
	var msg sentMsg
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.conns) == 0 {
			return false
		}
		c = d.conns[len(d.conns)-1]
		var ok bool
		msg, ok = c.last(FunctionUserLogin)
		return ok
	}, time.Second, time.Millisecond)

	g.OnReceived(FunctionUserLogin, msg.reqID, []Record{{
		"error_no":   "0",
		"client_id":  "c1",
		"session_no": "ab12cd34",
		"user_token": "tok",
	}})
	require.Eventually(t, func() bool {
		return g.State() == gateway.StateReady
	}, time.Second, time.Millisecond)
	return c
}

func awaitEvent(t *testing.T, ch chan gateway.Event, match func(gateway.Event) bool) gateway.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return gateway.Event{}
		}
	}
}

func awaitOrder(t *testing.T, ch chan gateway.Event, status gateway.OrderStatus) gateway.Event {
	t.Helper()
	return awaitEvent(t, ch, func(e gateway.Event) bool {
		return e.Type == gateway.EventOrderUpdate && e.Order.Status == status
	})
}

func submitBuy(t *testing.T, g *Gateway) uint64 {
	t.Helper()
	localID, err := g.SubmitOrder(gateway.OrderRequest{
		Symbol:   "600000",
		Exchange: gateway.ExchangeSSE,
		Side:     gateway.SideBuy,
		Type:     gateway.OrderTypeLimit,
		Price:    decimal.RequireFromString("10.50"),
		Quantity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	return localID
}

func TestOrderLifecycle(t *testing.T) {
	g, d, events := newTestGateway(t, nil, nil)
	c := login(t, g, d)

	awaitEvent(t, events, func(e gateway.Event) bool {
		return e.Type == gateway.EventConnectionStatus && e.Connection.State == gateway.StateReady
	})

	localID := submitBuy(t, g)
	sub := awaitOrder(t, events, gateway.StatusSubmitted)
	assert.Equal(t, localID, sub.Order.LocalID)

	msg, ok := c.last(FunctionSendOrder)
	require.True(t, ok)
	ref := msg.fields["entrust_reference"]
	assert.True(t, strings.HasPrefix(ref, "ab12cd34_"))

	g.OnReceived(FunctionSendOrder, msg.reqID, []Record{{
		"error_no":   "0",
		"entrust_no": "100001",
	}})
	acc := awaitOrder(t, events, gateway.StatusAccepted)
	assert.Equal(t, "100001", acc.Order.VendorOrderID)

	fillRow := Record{
		"entrust_reference": ref,
		"entrust_no":        "100001",
		"business_id":       "b-1",
		"stock_code":        "600000",
		"exchange_type":     "1",
		"entrust_bs":        "1",
		"business_price":    "10.50",
		"business_amount":   "100",
		"entrust_status":    "8",
		"init_date":         "20260826",
		"business_time":     "101500",
	}
	g.OnReceived(FunctionPush, 0, []Record{fillRow})

	trade := awaitEvent(t, events, func(e gateway.Event) bool {
		return e.Type == gateway.EventTradeUpdate
	})
	assert.Equal(t, localID, trade.Trade.LocalOrderID)
	assert.True(t, trade.Trade.Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, trade.Trade.Price.Equal(decimal.RequireFromString("10.50")))

	filled := awaitOrder(t, events, gateway.StatusFilled)
	assert.Equal(t, localID, filled.Order.LocalID)
	assert.True(t, filled.Order.Filled.Equal(decimal.NewFromInt(100)))

	// Duplicate fill and a late status push must both be discarded.
	g.OnReceived(FunctionPush, 0, []Record{fillRow})
	g.OnReceived(FunctionPush, 0, []Record{{
		"entrust_reference": ref,
		"entrust_no":        "100001",
		"entrust_status":    "6",
	}})
	select {
	case e := <-events:
		t.Fatalf("unexpected event after terminal status: %s", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectWhileActiveFails(t *testing.T) {
	g, d, _ := newTestGateway(t, nil, nil)
	login(t, g, d)

	err := g.Connect()
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrValidation)
}

func TestSubmitValidation(t *testing.T) {
	g, _, _ := newTestGateway(t, nil, nil)

	_, err := g.SubmitOrder(gateway.OrderRequest{
		Symbol:   "600000",
		Exchange: gateway.ExchangeSSE,
		Side:     gateway.SideBuy,
		Type:     gateway.OrderTypeLimit,
		Price:    decimal.RequireFromString("10.50"),
		Quantity: decimal.Zero,
	})
	assert.ErrorIs(t, err, gateway.ErrValidation)

	_, err = g.SubmitOrder(gateway.OrderRequest{
		Symbol:   "600000",
		Exchange: gateway.ExchangeSSE,
		Side:     gateway.SideBuy,
		Type:     gateway.OrderTypeLimit,
		Price:    decimal.RequireFromString("10.50"),
		Quantity: decimal.NewFromInt(100),
	})
	assert.ErrorIs(t, err, gateway.ErrNotReady)
}

func TestOrderAckRejection(t *testing.T) {
	g, d, events := newTestGateway(t, nil, nil)
	c := login(t, g, d)

	submitBuy(t, g)
	msg, ok := c.last(FunctionSendOrder)
	require.True(t, ok)
	g.OnReceived(FunctionSendOrder, msg.reqID, []Record{{
		"error_no":   "12011",
		"error_info": "insufficient balance",
	}})

	rej := awaitOrder(t, events, gateway.StatusRejected)
	assert.Contains(t, rej.Order.Reason, "insufficient balance")
}

func TestCancelFlow(t *testing.T) {
	g, d, events := newTestGateway(t, nil, nil)
	c := login(t, g, d)

	localID := submitBuy(t, g)
	msg, _ := c.last(FunctionSendOrder)
	g.OnReceived(FunctionSendOrder, msg.reqID, []Record{{"error_no": "0", "entrust_no": "100001"}})
	awaitOrder(t, events, gateway.StatusAccepted)

	_, err := g.CancelOrder(gateway.CancelRequest{LocalID: 9999})
	assert.ErrorIs(t, err, gateway.ErrUnknownOrder)

	cancelID, err := g.CancelOrder(gateway.CancelRequest{LocalID: localID})
	require.NoError(t, err)
	assert.NotEqual(t, localID, cancelID)

	cmsg, ok := c.last(FunctionCancelOrder)
	require.True(t, ok)
	assert.Equal(t, "100001", cmsg.fields["entrust_no"])
	g.OnReceived(FunctionCancelOrder, cmsg.reqID, []Record{{"error_no": "0", "entrust_no": "100001"}})

	cancelled := awaitOrder(t, events, gateway.StatusCancelled)
	assert.Equal(t, localID, cancelled.Order.LocalID)

	_, err = g.CancelOrder(gateway.CancelRequest{LocalID: localID})
	assert.ErrorIs(t, err, gateway.ErrValidation)
}

func TestCancelRejectedByCounter(t *testing.T) {
	g, d, events := newTestGateway(t, nil, nil)
	c := login(t, g, d)

	localID := submitBuy(t, g)
	msg, _ := c.last(FunctionSendOrder)
	g.OnReceived(FunctionSendOrder, msg.reqID, []Record{{"error_no": "0", "entrust_no": "100001"}})
	awaitOrder(t, events, gateway.StatusAccepted)

	_, err := g.CancelOrder(gateway.CancelRequest{LocalID: localID})
	require.NoError(t, err)
	cmsg, _ := c.last(FunctionCancelOrder)
	g.OnReceived(FunctionCancelOrder, cmsg.reqID, []Record{{
		"error_no":   "322",
		"error_info": "entrust already filled",
	}})

	notice := awaitEvent(t, events, func(e gateway.Event) bool {
		return e.Type == gateway.EventErrorNotice
	})
	assert.Equal(t, "322", notice.Error.Code)
	assert.Contains(t, notice.Error.Message, "cancel failed")
}

func TestRequestTimeoutSweep(t *testing.T) {
	g, d, events := newTestGateway(t, nil, func(cfg *config.UFXConfig) {
		cfg.RequestTimeout = 10 * time.Millisecond
	})
	login(t, g, d)

	submitBuy(t, g)
	awaitOrder(t, events, gateway.StatusSubmitted)

	time.Sleep(30 * time.Millisecond)
	g.sweepTick()

	rej := awaitOrder(t, events, gateway.StatusRejected)
	assert.Equal(t, gateway.ReasonTimeout, rej.Order.Reason)
}

func TestConnectionLossRejectsPending(t *testing.T) {
	g, d, events := newTestGateway(t, nil, nil)
	login(t, g, d)

	submitBuy(t, g)
	awaitOrder(t, events, gateway.StatusSubmitted)

	g.OnClosed()

	awaitEvent(t, events, func(e gateway.Event) bool {
		return e.Type == gateway.EventConnectionStatus && e.Connection.State == gateway.StateDegraded
	})
	rej := awaitOrder(t, events, gateway.StatusRejected)
	assert.Equal(t, gateway.ReasonConnectionLost, rej.Order.Reason)
}

func TestReconnectExhaustionIsFatal(t *testing.T) {
	g, d, events := newTestGateway(t, nil, func(cfg *config.UFXConfig) {
		cfg.Reconnect = config.ReconnectConfig{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		}
	})
	login(t, g, d)
	d.mu.Lock()
	d.failFrom = 2 // every redial is refused
	d.mu.Unlock()

	g.OnClosed()

	final := awaitEvent(t, events, func(e gateway.Event) bool {
		return e.Type == gateway.EventConnectionStatus && e.Connection.State == gateway.StateDisconnectedFinal
	})
	assert.True(t, final.Connection.Fatal)
	assert.GreaterOrEqual(t, d.dialCount(), 3)
	assert.Equal(t, gateway.StateDisconnectedFinal, g.State())
}

func TestHeartbeatDegradesAfterMissedBeats(t *testing.T) {
	g, d, _ := newTestGateway(t, nil, nil)
	c := login(t, g, d)

	// First tick sends the probe; answering it keeps the session alive.
	g.heartbeatTick()
	msg, ok := c.last(FunctionHeartbeat)
	require.True(t, ok)
	g.OnReceived(FunctionHeartbeat, msg.reqID, nil)
	require.Eventually(t, func() bool {
		return g.State() == gateway.StateReady
	}, time.Second, time.Millisecond)

	// Unanswered probes degrade after the miss limit.
	for i := 0; i < missedBeatLimit+1; i++ {
		g.heartbeatTick()
	}
	assert.Equal(t, gateway.StateDegraded, g.State())
}

func TestLoginRejectionIsFatal(t *testing.T) {
	g, d, events := newTestGateway(t, nil, nil)
	require.NoError(t, g.Connect())

	var c *fakeConn
	var msg sentMsg
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.conns) == 0 {
			return false
		}
		c = d.conns[0]
		var ok bool
		msg, ok = c.last(FunctionUserLogin)
		return ok
	}, time.Second, time.Millisecond)

	g.OnReceived(FunctionUserLogin, msg.reqID, []Record{{
		"error_no":   "331",
		"error_info": "invalid account or password",
	}})

	final := awaitEvent(t, events, func(e gateway.Event) bool {
		return e.Type == gateway.EventConnectionStatus && e.Connection.State == gateway.StateDisconnectedFinal
	})
	assert.True(t, final.Connection.Fatal)
	assert.Contains(t, final.Connection.Reason, "login rejected")
	assert.Equal(t, 1, d.dialCount(), "vendor rejection must not trigger redial")
}

func TestOrderPushFromAnotherTerminal(t *testing.T) {
	g, d, events := newTestGateway(t, nil, nil)
	login(t, g, d)

	g.OnReceived(FunctionPush, 0, []Record{{
		"entrust_reference": "othersess_000001",
		"entrust_no":        "200001",
		"stock_code":        "000001",
		"exchange_type":     "2",
		"entrust_bs":        "2",
		"entrust_prop":      "0",
		"entrust_price":     "12.34",
		"entrust_amount":    "300",
		"business_amount":   "0",
		"entrust_status":    "2",
	}})

	evt := awaitOrder(t, events, gateway.StatusAccepted)
	assert.Equal(t, "200001", evt.Order.VendorOrderID)
	assert.Equal(t, gateway.ExchangeSZSE, evt.Order.Exchange)
	assert.NotZero(t, evt.Order.LocalID)
}

func TestUnknownStatusCodeForwardedAsNotice(t *testing.T) {
	g, d, events := newTestGateway(t, nil, nil)
	login(t, g, d)

	g.OnReceived(FunctionPush, 0, []Record{{
		"entrust_reference": "othersess_000002",
		"entrust_no":        "200002",
		"stock_code":        "600000",
		"exchange_type":     "1",
		"entrust_bs":        "1",
		"entrust_status":    "X",
	}})

	notice := awaitEvent(t, events, func(e gateway.Event) bool {
		return e.Type == gateway.EventErrorNotice
	})
	assert.True(t, notice.Error.Unknown)
	assert.Equal(t, "X", notice.Error.Code)

	// The order still lands, on the fallback status.
	evt := awaitOrder(t, events, gateway.StatusSubmitted)
	assert.Equal(t, "200002", evt.Order.VendorOrderID)
}

func TestQueryReplies(t *testing.T) {
	g, d, events := newTestGateway(t, nil, nil)
	c := login(t, g, d)

	localID, err := g.Query(gateway.QueryAccount)
	require.NoError(t, err)
	msg, ok := c.last(FunctionQueryAccount)
	require.True(t, ok)
	g.OnReceived(FunctionQueryAccount, msg.reqID, []Record{{
		"error_no":        "0",
		"current_balance": "1000000",
		"enable_balance":  "998950",
		"frozen_balance":  "1050",
	}})

	res := awaitEvent(t, events, func(e gateway.Event) bool {
		return e.Type == gateway.EventQueryResult && e.Query.Kind == gateway.QueryAccount
	})
	assert.Equal(t, localID, res.Query.LocalID)
	require.NotNil(t, res.Query.Account)
	assert.True(t, res.Query.Account.Available.Equal(decimal.NewFromInt(998950)))

	_, err = g.Query(gateway.QueryKind("bogus"))
	assert.ErrorIs(t, err, gateway.ErrValidation)
}

func TestPollTickPublishesQuotes(t *testing.T) {
	md := fakeMD{rows: []Record{{
		"code":   "600000",
		"price":  "10.52",
		"volume": "1000",
		"date":   "2026-08-26",
		"time":   "10:15:00",
	}}}
	g, d, events := newTestGateway(t, md, nil)
	login(t, g, d)
	require.NoError(t, g.Subscribe(gateway.SubscribeRequest{Symbol: "600000", Exchange: gateway.ExchangeSSE}))

	g.pollTick()

	tick := awaitEvent(t, events, func(e gateway.Event) bool {
		return e.Type == gateway.EventTickUpdate
	})
	assert.Equal(t, "600000", tick.Tick.Symbol)
	assert.Equal(t, gateway.ExchangeSSE, tick.Tick.Exchange)
	assert.True(t, tick.Tick.Last.Equal(decimal.RequireFromString("10.52")))
}
