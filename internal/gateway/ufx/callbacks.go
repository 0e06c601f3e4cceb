package ufx

import (
	"time"

	"ufxgate/internal/gateway"
)

// OnReceived is the single entry point for the connection library's callback
// thread. It classifies the message by function number and hands it to the
// matching handler, mirroring the counter's own dispatch table.
func (g *Gateway) OnReceived(function int, reqID int, rows []Record) {
	switch function {
	case FunctionHeartbeat:
		g.onHeartbeat()
	case FunctionUserLogin:
		g.onLogin(rows)
	case FunctionSendOrder:
		g.onOrderAck(reqID, rows)
	case FunctionCancelOrder:
		g.onCancelAck(reqID, rows)
	case FunctionQueryAccount, FunctionQueryPosition, FunctionQueryOrder,
		FunctionQueryTrade, FunctionQueryContract:
		g.onQueryReply(reqID, rows)
	case FunctionPush:
		g.onPush(rows)
	default:
		g.log.Warn("no handler for function", "function", function)
	}
}

// OnClosed reports a dropped transport.
func (g *Gateway) OnClosed() {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.sess.state {
	case gateway.StateReady, gateway.StateAuthenticating, gateway.StateConnecting:
		g.degradeLocked("transport closed")
	}
}

func (g *Gateway) onHeartbeat() {
	g.mu.Lock()
	g.sess.beatAcked()
	g.mu.Unlock()
}

// onLogin finishes session establishment. A counter-side rejection is handed
// back to the connect goroutine, which treats it as terminal.
func (g *Gateway) onLogin(rows []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if verr := rowError(rows); verr != nil {
		g.notifyLoginLocked(verr)
		return
	}
	if len(rows) == 0 {
		g.notifyLoginLocked(&gateway.VendorError{Code: "login", Message: "empty login reply"})
		return
	}
	last := rows[len(rows)-1]
	g.sess.loggedIn(last["client_id"], last["session_no"], last["user_token"])
	g.sess.reconnected()
	g.transitionLocked(gateway.StateReady, "login ok", false)
	g.notifyLoginLocked(nil)

	// Register for order and trade pushes, then prime local state. Failures
	// here are logged, not fatal: the session is usable without them and the
	// sweep will time out the queries.
	env := g.envLocked()
	if _, err := g.conn.SendBizMsg(FunctionSubscribe, subscribeFields(env, issueTypeOrder)); err != nil {
		g.log.Warn("order subscription failed", "err", err)
	}
	if _, err := g.conn.SendBizMsg(FunctionSubscribe, subscribeFields(env, issueTypeTrade)); err != nil {
		g.log.Warn("trade subscription failed", "err", err)
	}
	if _, err := g.queryLocked(gateway.QueryContracts, FunctionQueryContract); err != nil {
		g.log.Warn("contract query failed", "err", err)
	}
	if _, err := g.queryLocked(gateway.QueryOrders, FunctionQueryOrder); err != nil {
		g.log.Warn("order query failed", "err", err)
	}
}

func (g *Gateway) notifyLoginLocked(err error) {
	if g.loginCh == nil {
		return
	}
	select {
	case g.loginCh <- err:
	default:
	}
}

// onOrderAck resolves a place-order request. The ack either binds the
// counter's entrust_no and confirms the order, or rejects it outright.
func (g *Gateway) onOrderAck(reqID int, rows []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.corr.lookupByReqID(reqID)
	if p == nil || p.kind != kindOrder {
		g.log.Warn("order ack without pending", "req_id", reqID)
		return
	}
	g.corr.settle(p.localID)
	o, ok := g.corr.orders[p.localID]
	if !ok {
		return
	}
	if verr := rowError(rows); verr != nil {
		if updated, applied := g.corr.applyStatus(o, gateway.StatusRejected, verr.Error()); applied {
			g.disp.enqueue(gateway.NewOrderEvent(updated))
		}
		return
	}
	if len(rows) > 0 {
		if entrustNo := rows[0]["entrust_no"]; entrustNo != "" {
			if err := g.corr.bindVendor(o.LocalID, entrustNo); err != nil {
				g.log.Warn("vendor id bind refused", "err", err)
			}
		}
	}
	if updated, applied := g.corr.applyStatus(o, gateway.StatusAccepted, ""); applied {
		g.disp.enqueue(gateway.NewOrderEvent(updated))
	}
}

// onCancelAck resolves a cancel request. Confirmation finalizes the order as
// cancelled unless a fill already closed it, in which case the stale
// transition is discarded.
func (g *Gateway) onCancelAck(reqID int, rows []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.corr.lookupByReqID(reqID)
	if p == nil || p.kind != kindCancel {
		g.log.Warn("cancel ack without pending", "req_id", reqID)
		return
	}
	g.corr.settle(p.localID)
	if verr := rowError(rows); verr != nil {
		g.disp.enqueue(gateway.NewErrorEvent(gateway.ErrorNotice{
			Code:    verr.Code,
			Message: "cancel failed: " + verr.Message,
		}))
		return
	}
	o, ok := g.corr.orders[p.targetLocal]
	if !ok {
		return
	}
	updated, applied := g.corr.applyStatus(o, gateway.StatusCancelled, "cancelled")
	if !applied {
		g.log.Warn("cancel confirmation after terminal status, discarded",
			"local_id", o.LocalID, "status", o.Status)
		return
	}
	g.disp.enqueue(gateway.NewOrderEvent(updated))
}

// onPush handles function 620003, which multiplexes order status pushes and
// fill confirmations on one subscription channel.
func (g *Gateway) onPush(rows []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pushIsTrade(rows) {
		for _, row := range rows {
			g.handleTradePushLocked(row)
		}
		return
	}
	for _, row := range rows {
		g.handleOrderPushLocked(row)
	}
}

func (g *Gateway) handleTradePushLocked(r Record) {
	tr, err := parseTradeRow(r)
	if err != nil {
		g.log.Warn("bad trade row", "err", err)
		return
	}
	if !tr.KnownCode {
		g.disp.enqueue(gateway.NewErrorEvent(gateway.ErrorNotice{
			Code:    tr.StatusRaw,
			Message: "unmapped entrust_status on trade push",
			Unknown: true,
		}))
	}
	o := g.corr.orderFor(tr.EntrustNo, tr.Reference)
	if o == nil {
		g.log.Warn("fill for unknown order", "entrust_no", tr.EntrustNo, "reference", tr.Reference)
		return
	}
	if tr.IsCancel {
		// Withdrawal confirmation rides the trade channel. Any fill that
		// raced the cancel has already been applied in arrival order.
		if updated, applied := g.corr.applyStatus(o, gateway.StatusCancelled, "cancelled"); applied {
			g.disp.enqueue(gateway.NewOrderEvent(updated))
		} else {
			g.log.Warn("cancel push after terminal status, discarded",
				"local_id", o.LocalID, "status", o.Status)
		}
		return
	}
	if o.Status.Terminal() {
		g.log.Warn("fill after terminal status, discarded",
			"local_id", o.LocalID, "status", o.Status, "business_id", tr.BusinessID)
		return
	}
	trade, updated, applied := g.corr.applyFill(o, tr)
	if !applied {
		return // duplicate business_id
	}
	g.disp.enqueue(gateway.NewTradeEvent(trade))
	g.disp.enqueue(gateway.NewOrderEvent(updated))
}

func (g *Gateway) handleOrderPushLocked(r Record) {
	row, err := parseOrderRow(r)
	if err != nil {
		g.log.Warn("bad order row", "err", err)
		return
	}
	if row.IsCancel {
		return // withdrawal records are confirmed on the trade channel
	}
	if !row.KnownCode {
		g.disp.enqueue(gateway.NewErrorEvent(gateway.ErrorNotice{
			Code:    row.StatusRaw,
			Message: "unmapped entrust_status on order push",
			Unknown: true,
		}))
	}
	o := g.orderFromRowLocked(row)
	if o == nil {
		return
	}
	if row.Filled.GreaterThan(o.Filled) && !o.Status.Terminal() {
		o.Filled = row.Filled
	}
	updated, applied := g.corr.applyStatus(o, row.Status, "")
	if !applied {
		g.log.Warn("stale status push discarded",
			"local_id", o.LocalID, "status", o.Status, "pushed", row.Status)
		return
	}
	g.disp.enqueue(gateway.NewOrderEvent(updated))
}

// orderFromRowLocked finds the order a push refers to, creating a record for
// orders this process has not seen (placed from another terminal, or
// restored after reconnect).
func (g *Gateway) orderFromRowLocked(row orderRow) *gateway.Order {
	if o := g.corr.orderFor(row.EntrustNo, row.Reference); o != nil {
		if row.EntrustNo != "" && o.VendorOrderID == "" {
			if err := g.corr.bindVendor(o.LocalID, row.EntrustNo); err != nil {
				g.log.Warn("vendor id bind refused", "err", err)
			}
		}
		return o
	}
	localID := localFromReference(row.Reference)
	if localID == 0 || g.corr.orders[localID] != nil {
		localID = g.corr.allocate()
	} else if localID > g.corr.nextID {
		g.corr.nextID = localID
	}
	o := &gateway.Order{
		LocalID:     localID,
		Symbol:      row.Symbol,
		Exchange:    row.Exchange,
		Side:        row.Side,
		Type:        row.Type,
		Price:       row.Price,
		Quantity:    row.Quantity,
		Filled:      row.Filled,
		Status:      gateway.StatusSubmitted,
		SubmittedAt: row.Time,
		UpdatedAt:   time.Now(),
	}
	g.corr.addOrder(o, row.Reference)
	if row.EntrustNo != "" {
		if err := g.corr.bindVendor(localID, row.EntrustNo); err != nil {
			g.log.Warn("vendor id bind refused", "err", err)
		}
	}
	return o
}

// onQueryReply resolves a pending query and emits its typed result.
func (g *Gateway) onQueryReply(reqID int, rows []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.corr.lookupByReqID(reqID)
	if p == nil || p.kind != kindQuery {
		g.log.Warn("query reply without pending", "req_id", reqID)
		return
	}
	g.corr.settle(p.localID)

	result := gateway.QueryResult{LocalID: p.localID, Kind: p.queryKind}
	if verr := rowError(rows); verr != nil {
		result.Err = verr.Error()
		g.disp.enqueue(gateway.NewQueryEvent(result))
		return
	}

	switch p.queryKind {
	case gateway.QueryAccount:
		if len(rows) > 0 {
			acct, err := parseAccountRow(rows[len(rows)-1], g.sess.clientID)
			if err != nil {
				result.Err = err.Error()
			} else {
				result.Account = &acct
			}
		}
	case gateway.QueryPositions:
		for _, r := range rows {
			pos, err := parsePositionRow(r)
			if err != nil {
				g.log.Warn("bad position row", "err", err)
				continue
			}
			result.Positions = append(result.Positions, pos)
		}
	case gateway.QueryOrders:
		for _, r := range rows {
			row, err := parseOrderRow(r)
			if err != nil {
				g.log.Warn("bad order row", "err", err)
				continue
			}
			o := g.orderFromRowLocked(row)
			if o == nil {
				continue
			}
			if row.Filled.GreaterThan(o.Filled) && !o.Status.Terminal() {
				o.Filled = row.Filled
			}
			if updated, applied := g.corr.applyStatus(o, row.Status, ""); applied {
				result.Orders = append(result.Orders, updated)
			} else {
				result.Orders = append(result.Orders, *o)
			}
		}
	case gateway.QueryTrades:
		for _, r := range rows {
			row, err := parseTradeRow(r)
			if err != nil {
				g.log.Warn("bad trade row", "err", err)
				continue
			}
			if row.IsCancel {
				continue
			}
			o := g.corr.orderFor(row.EntrustNo, row.Reference)
			var localOrderID uint64
			if o != nil {
				localOrderID = o.LocalID
			}
			result.Trades = append(result.Trades, gateway.Trade{
				LocalOrderID:  localOrderID,
				VendorTradeID: row.BusinessID,
				Symbol:        row.Symbol,
				Exchange:      row.Exchange,
				Side:          row.Side,
				Price:         row.Price,
				Quantity:      row.Quantity,
				Time:          row.Time,
			})
		}
	case gateway.QueryContracts:
		for _, r := range rows {
			c, err := parseContractRow(r)
			if err != nil {
				g.log.Warn("bad contract row", "err", err)
				continue
			}
			g.contracts[c.Symbol] = c
			result.Contracts = append(result.Contracts, c)
		}
	}
	g.disp.enqueue(gateway.NewQueryEvent(result))
}
