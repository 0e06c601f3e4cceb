// Package ufx adapts the Hundsun UFX securities counter to the normalized
// gateway interface. The counter's connection library delivers replies and
// pushes on its own callback thread; everything here funnels through one
// mutex and a single-consumer dispatch queue so the host sees a serialized,
// ordered event stream.
package ufx

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ufxgate/internal/config"
	"ufxgate/internal/gateway"
	"ufxgate/internal/logger"
)

const gatewayName = "UFX"

// Gateway drives one authenticated UFX session. Construct with New, start
// the background loops with Run, then Connect.
type Gateway struct {
	cfg    config.UFXConfig
	dialer Dialer
	md     MarketData
	disp   *dispatcher
	log    *slog.Logger

	mu        sync.Mutex
	sess      *session
	conn      Conn
	corr      *correlator
	contracts map[string]gateway.Contract
	subs      []gateway.SubscribeRequest
	loginCh   chan error
	pollFlip  bool
	// reconnecting guards against spawning a second reconnect loop when the
	// session degrades again mid-recovery.
	reconnecting bool

	ctx context.Context
}

// New builds a gateway over the given connection dialer and optional market
// data source. Events go to pub via the internal dispatch queue.
func New(cfg config.UFXConfig, dialer Dialer, md MarketData, pub gateway.EventPublisher) *Gateway {
	return &Gateway{
		cfg:       cfg,
		dialer:    dialer,
		md:        md,
		disp:      newDispatcher(pub),
		log:       logger.With("ufx"),
		sess:      newSession(cfg.Reconnect.MaxAttempts, cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay),
		corr:      newCorrelator(cfg.RequestTimeout),
		contracts: make(map[string]gateway.Contract),
	}
}

func (g *Gateway) Name() string { return gatewayName }

// Run operates the dispatch loop, timeout sweeper, heartbeat prober and
// poller until ctx is cancelled. It must be running before Connect.
func (g *Gateway) Run(ctx context.Context) error {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return g.disp.run(ctx) })
	grp.Go(func() error { return g.tickLoop(ctx, g.cfg.SweepInterval, g.sweepTick) })
	grp.Go(func() error { return g.tickLoop(ctx, g.cfg.HeartbeatInterval, g.heartbeatTick) })
	if g.cfg.PollInterval > 0 {
		grp.Go(func() error { return g.tickLoop(ctx, g.cfg.PollInterval, g.pollTick) })
	}
	return grp.Wait()
}

func (g *Gateway) tickLoop(ctx context.Context, every time.Duration, fn func()) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			fn()
		}
	}
}

// State returns the current session state.
func (g *Gateway) State() gateway.SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sess.state
}

// Contracts returns a snapshot of the loaded instrument catalog.
func (g *Gateway) Contracts() []gateway.Contract {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gateway.Contract, 0, len(g.contracts))
	for _, c := range g.contracts {
		out = append(out, c)
	}
	return out
}

// Connect validates credentials and starts the asynchronous session
// establishment. Progress is observable only through ConnectionStatus
// events.
func (g *Gateway) Connect() error {
	if strings.TrimSpace(g.cfg.FundAccount) == "" {
		return gateway.Validationf("fund account cannot be empty")
	}
	if strings.TrimSpace(g.cfg.Password) == "" {
		return gateway.Validationf("password cannot be empty")
	}
	g.mu.Lock()
	if !g.sess.is(gateway.StateDisconnected) {
		g.mu.Unlock()
		return gateway.Validationf("connect: session already %s", g.sess.state)
	}
	g.transitionLocked(gateway.StateConnecting, "", false)
	g.mu.Unlock()

	go g.establish()
	return nil
}

// Disconnect tears the session down from any state. Idempotent; always
// lands on the final disconnected state.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finalizeLocked("disconnect requested")
}

// SubmitOrder validates, records and dispatches an order, returning its
// local id. The broker's answer arrives as OrderUpdate events.
func (g *Gateway) SubmitOrder(req gateway.OrderRequest) (uint64, error) {
	if err := g.validateOrder(req); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.sess.is(gateway.StateReady) {
		return 0, gateway.ErrNotReady
	}
	if len(g.contracts) > 0 {
		if _, ok := g.contracts[req.Symbol]; !ok {
			return 0, gateway.Validationf("unknown instrument %q", req.Symbol)
		}
	}
	localID := g.corr.allocate()
	ref := reference(g.sess.sessionNo, localID)
	now := time.Now()
	order := &gateway.Order{
		LocalID:     localID,
		Symbol:      req.Symbol,
		Exchange:    req.Exchange,
		Side:        req.Side,
		Type:        req.Type,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Status:      gateway.StatusSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	reqID, err := g.conn.SendBizMsg(FunctionSendOrder, orderFields(g.envLocked(), req, ref))
	if err != nil {
		return 0, gateway.Validationf("native dispatch failed: %v", err)
	}
	g.corr.addOrder(order, ref)
	g.corr.track(&pendingRequest{localID: localID, kind: kindOrder, reqID: reqID})
	g.disp.enqueue(gateway.NewOrderEvent(*order))
	return localID, nil
}

// CancelOrder issues a withdrawal for a previously submitted order. The
// cancel is tracked as its own request, linked to the order; the order is
// finalized only when the counter confirms, so a racing fill still lands.
func (g *Gateway) CancelOrder(req gateway.CancelRequest) (uint64, error) {
	if g.cfg.CancelGuardEnabled() && !cancelWindowOpen(time.Now().In(chinaTZ)) {
		return 0, gateway.Validationf("cancel rejected outside trading hours")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.sess.is(gateway.StateReady) {
		return 0, gateway.ErrNotReady
	}
	order, ok := g.corr.orders[req.LocalID]
	if !ok {
		return 0, gateway.ErrUnknownOrder
	}
	if order.Status.Terminal() {
		return 0, gateway.Validationf("order %d already %s", order.LocalID, order.Status)
	}
	localID := g.corr.allocate()
	ref := reference(g.sess.sessionNo, order.LocalID)
	reqID, err := g.conn.SendBizMsg(FunctionCancelOrder, cancelFields(g.envLocked(), order.VendorOrderID, ref))
	if err != nil {
		return 0, gateway.Validationf("native dispatch failed: %v", err)
	}
	g.corr.track(&pendingRequest{localID: localID, kind: kindCancel, reqID: reqID, targetLocal: order.LocalID})
	return localID, nil
}

// Query dispatches an account/position/order/trade/contract query.
func (g *Gateway) Query(kind gateway.QueryKind) (uint64, error) {
	fn, ok := queryFunction[kind]
	if !ok {
		return 0, gateway.Validationf("unknown query kind %q", kind)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.sess.is(gateway.StateReady) {
		return 0, gateway.ErrNotReady
	}
	return g.queryLocked(kind, fn)
}

func (g *Gateway) queryLocked(kind gateway.QueryKind, fn int) (uint64, error) {
	fields := queryFields(g.envLocked())
	if kind == gateway.QueryContracts {
		fields = contractQueryFields(g.envLocked(), "1")
	}
	reqID, err := g.conn.SendBizMsg(fn, fields)
	if err != nil {
		return 0, gateway.Validationf("native dispatch failed: %v", err)
	}
	localID := g.corr.allocate()
	g.corr.track(&pendingRequest{localID: localID, kind: kindQuery, queryKind: kind, reqID: reqID})
	return localID, nil
}

// Subscribe registers an instrument for tick polling.
func (g *Gateway) Subscribe(req gateway.SubscribeRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return gateway.Validationf("subscribe: symbol cannot be empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.subs {
		if s.Symbol == req.Symbol {
			return nil
		}
	}
	g.subs = append(g.subs, req)
	return nil
}

func (g *Gateway) validateOrder(req gateway.OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return gateway.Validationf("symbol cannot be empty")
	}
	if _, ok := exchangeToUFX[req.Exchange]; !ok {
		return gateway.Validationf("unsupported exchange %q", req.Exchange)
	}
	if _, ok := sideToUFX[req.Side]; !ok {
		return gateway.Validationf("unsupported side %q", req.Side)
	}
	if _, ok := orderTypeToUFX[req.Type]; !ok {
		return gateway.Validationf("unsupported order type %q", req.Type)
	}
	if !req.Quantity.IsPositive() {
		return gateway.Validationf("quantity must be positive, got %s", req.Quantity)
	}
	if req.Type == gateway.OrderTypeLimit && !req.Price.IsPositive() {
		return gateway.Validationf("limit price must be positive, got %s", req.Price)
	}
	return nil
}

// cancelWindowOpen mirrors the counter's rule: no withdrawals during the
// lunch break or after the close.
func cancelWindowOpen(now time.Time) bool {
	hm := now.Hour()*100 + now.Minute()
	if hm >= 1131 && hm <= 1259 {
		return false
	}
	if hm >= 1500 {
		return false
	}
	return true
}

func (g *Gateway) envLocked() sessionEnv {
	return sessionEnv{
		branchNo:   g.cfg.BranchNo,
		entrustWay: g.cfg.EntrustWay,
		station:    g.cfg.Station,
		account:    g.cfg.FundAccount,
		password:   g.cfg.Password,
		clientID:   g.sess.clientID,
		userToken:  g.sess.userToken,
	}
}

func (g *Gateway) servers() string {
	if g.cfg.Server1 != "" && g.cfg.Server2 != "" {
		return g.cfg.Server1 + ";" + g.cfg.Server2
	}
	return g.cfg.Server1
}

// transitionLocked moves the state machine and reports the change to the
// host exactly once per edge.
func (g *Gateway) transitionLocked(next gateway.SessionState, reason string, fatal bool) {
	if !g.sess.to(next) {
		return
	}
	g.log.Info("session state", "state", next, "reason", reason)
	g.disp.enqueue(gateway.NewConnectionEvent(gateway.ConnectionStatus{
		State:  next,
		Reason: reason,
		Fatal:  fatal,
	}))
}

// establish dials and logs in, once for the initial connect and once per
// reconnect attempt. A vendor-rejected login is terminal; transport errors
// degrade the session and hand control to the reconnect loop.
func (g *Gateway) establish() {
	g.mu.Lock()
	loginCh := make(chan error, 1)
	g.loginCh = loginCh
	cfg := DialConfig{
		Servers:     g.servers(),
		FundAccount: g.cfg.FundAccount,
		Password:    g.cfg.Password,
	}
	g.mu.Unlock()

	conn, err := g.dialer.Dial(cfg, g)
	if err != nil {
		g.log.Warn("dial failed", "err", err)
		g.mu.Lock()
		g.degradeLocked("connect failed: " + err.Error())
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	g.conn = conn
	g.transitionLocked(gateway.StateAuthenticating, "", false)
	env := g.envLocked()
	g.mu.Unlock()

	if _, err := conn.SendBizMsg(FunctionUserLogin, loginFields(env)); err != nil {
		g.mu.Lock()
		g.degradeLocked("login dispatch failed: " + err.Error())
		g.mu.Unlock()
		return
	}

	select {
	case err := <-loginCh:
		if err == nil {
			return // onLogin already moved us to Ready
		}
		g.mu.Lock()
		if _, rejected := err.(*gateway.VendorError); rejected {
			g.finalizeLocked("login rejected: " + err.Error())
		} else {
			g.degradeLocked("login failed: " + err.Error())
		}
		g.mu.Unlock()
	case <-time.After(g.cfg.RequestTimeout):
		g.mu.Lock()
		g.degradeLocked("login timed out")
		g.mu.Unlock()
	case <-g.runCtx().Done():
	}
}

func (g *Gateway) runCtx() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx != nil {
		return g.ctx
	}
	return context.Background()
}

// degradeLocked enters the degraded state: every outstanding request is
// force-rejected as connection-lost and the reconnect loop takes over.
func (g *Gateway) degradeLocked(reason string) {
	if g.sess.is(gateway.StateDegraded) || g.sess.is(gateway.StateDisconnectedFinal) {
		return
	}
	g.transitionLocked(gateway.StateDegraded, reason, false)
	g.rejectPendingLocked(gateway.ReasonConnectionLost)
	if g.conn != nil {
		_ = g.conn.Close()
		g.conn = nil
	}
	if !g.reconnecting {
		g.reconnecting = true
		go g.reconnectLoop()
	}
}

// finalizeLocked lands on the terminal disconnected state, reported once.
func (g *Gateway) finalizeLocked(reason string) {
	if g.sess.is(gateway.StateDisconnectedFinal) {
		return
	}
	g.rejectPendingLocked(gateway.ReasonConnectionLost)
	if g.conn != nil {
		_ = g.conn.Close()
		g.conn = nil
	}
	g.transitionLocked(gateway.StateDisconnectedFinal, reason, true)
}

// rejectPendingLocked drains the pending table, emitting the appropriate
// terminal event per request kind so none resolves zero times.
func (g *Gateway) rejectPendingLocked(reason string) {
	for _, p := range g.corr.drain() {
		switch p.kind {
		case kindOrder:
			if o, ok := g.corr.orders[p.localID]; ok {
				if updated, applied := g.corr.applyStatus(o, gateway.StatusRejected, reason); applied {
					g.disp.enqueue(gateway.NewOrderEvent(updated))
				}
			}
		case kindCancel:
			g.disp.enqueue(gateway.NewErrorEvent(gateway.ErrorNotice{
				Code:    reason,
				Message: "cancel request abandoned",
			}))
		case kindQuery:
			g.disp.enqueue(gateway.NewQueryEvent(gateway.QueryResult{
				LocalID: p.localID,
				Kind:    p.queryKind,
				Err:     reason,
			}))
		}
	}
}

// reconnectLoop re-dials with exponential backoff until Ready again or the
// attempt budget runs out, which is terminal.
func (g *Gateway) reconnectLoop() {
	defer func() {
		g.mu.Lock()
		g.reconnecting = false
		g.mu.Unlock()
	}()
	ctx := g.runCtx()
	for {
		g.mu.Lock()
		if !g.sess.is(gateway.StateDegraded) {
			g.mu.Unlock()
			return
		}
		delay, ok := g.sess.nextReconnect()
		if !ok {
			g.finalizeLocked("reconnect attempts exhausted")
			g.mu.Unlock()
			return
		}
		attempt := g.sess.attempts
		g.mu.Unlock()

		g.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		g.mu.Lock()
		if !g.sess.is(gateway.StateDegraded) {
			g.mu.Unlock()
			return
		}
		g.transitionLocked(gateway.StateConnecting, "reconnecting", false)
		g.mu.Unlock()

		g.establish()

		g.mu.Lock()
		ready := g.sess.is(gateway.StateReady)
		final := g.sess.is(gateway.StateDisconnectedFinal)
		g.mu.Unlock()
		if ready || final {
			return
		}
	}
}

func (g *Gateway) sweepTick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.corr.sweep(time.Now()) {
		g.log.Warn("request timed out", "local_id", p.localID, "kind", p.kind)
		switch p.kind {
		case kindOrder:
			if o, ok := g.corr.orders[p.localID]; ok {
				if updated, applied := g.corr.applyStatus(o, gateway.StatusRejected, gateway.ReasonTimeout); applied {
					g.disp.enqueue(gateway.NewOrderEvent(updated))
				}
			}
		case kindCancel:
			g.disp.enqueue(gateway.NewErrorEvent(gateway.ErrorNotice{
				Code:    gateway.ReasonTimeout,
				Message: "cancel request timed out",
			}))
		case kindQuery:
			g.disp.enqueue(gateway.NewQueryEvent(gateway.QueryResult{
				LocalID: p.localID,
				Kind:    p.queryKind,
				Err:     gateway.ReasonTimeout,
			}))
		}
	}
}

// heartbeatTick sends a liveness probe while Ready. A tick that finds the
// previous probe unanswered counts a miss; the limit degrades the session.
func (g *Gateway) heartbeatTick() {
	g.mu.Lock()
	if !g.sess.is(gateway.StateReady) {
		g.mu.Unlock()
		return
	}
	if g.sess.beatMissed() {
		g.degradeLocked("heartbeat timeout")
		g.mu.Unlock()
		return
	}
	g.sess.probeSent()
	conn := g.conn
	g.mu.Unlock()
	if conn != nil {
		if _, err := conn.SendBizMsg(FunctionHeartbeat, nil); err != nil {
			g.log.Warn("heartbeat send failed", "err", err)
		}
	}
}

// pollTick alternates account and position refresh queries and polls market
// quotes for subscribed instruments.
func (g *Gateway) pollTick() {
	g.mu.Lock()
	if !g.sess.is(gateway.StateReady) {
		g.mu.Unlock()
		return
	}
	g.pollFlip = !g.pollFlip
	kind, fn := gateway.QueryAccount, FunctionQueryAccount
	if g.pollFlip {
		kind, fn = gateway.QueryPositions, FunctionQueryPosition
	}
	if _, err := g.queryLocked(kind, fn); err != nil {
		g.log.Warn("poll query failed", "kind", kind, "err", err)
	}
	subs := make([]gateway.SubscribeRequest, len(g.subs))
	copy(subs, g.subs)
	g.mu.Unlock()

	g.pollQuotes(subs)
}

func (g *Gateway) pollQuotes(subs []gateway.SubscribeRequest) {
	if g.md == nil || len(subs) == 0 {
		return
	}
	symbols := make([]string, 0, len(subs))
	exchanges := make(map[string]gateway.Exchange, len(subs))
	for _, s := range subs {
		symbols = append(symbols, s.Symbol)
		exchanges[s.Symbol] = s.Exchange
	}
	rows, err := g.md.RealtimeQuotes(symbols)
	if err != nil {
		g.log.Warn("quote poll failed", "err", err)
		return
	}
	for _, row := range rows {
		tick, err := parseQuoteRow(row, exchanges[row["code"]])
		if err != nil {
			g.log.Warn("bad quote row", "err", err)
			continue
		}
		g.disp.enqueue(gateway.NewTickEvent(tick))
	}
}
