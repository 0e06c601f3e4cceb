package ufx

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ufxgate/internal/gateway"
)

// requestKind classifies a pending request.
type requestKind int

const (
	kindOrder requestKind = iota
	kindCancel
	kindQuery
)

// pendingRequest tracks one in-flight action until its terminal response or
// timeout. Each pending resolves exactly once.
type pendingRequest struct {
	localID     uint64
	kind        requestKind
	queryKind   gateway.QueryKind
	reqID       int    // native send id, used to match the first ack
	vendorKey   string // entrust_no once bound
	targetLocal uint64 // for cancels: the order being withdrawn
	submittedAt time.Time
}

// correlator owns the pending-request table and all order records for the
// session. It is not safe for concurrent use by itself; the gateway
// serializes access behind its own mutex so the native callback thread and
// the host thread never race on the same record.
type correlator struct {
	nextID  uint64
	pending map[uint64]*pendingRequest
	byReqID map[int]uint64

	orders        map[uint64]*gateway.Order
	orderByVendor map[string]uint64
	orderByRef    map[string]uint64
	tradeSeen     map[string]struct{}

	timeout time.Duration
}

func newCorrelator(timeout time.Duration) *correlator {
	return &correlator{
		pending:       make(map[uint64]*pendingRequest),
		byReqID:       make(map[int]uint64),
		orders:        make(map[uint64]*gateway.Order),
		orderByVendor: make(map[string]uint64),
		orderByRef:    make(map[string]uint64),
		tradeSeen:     make(map[string]struct{}),
		timeout:       timeout,
	}
}

// allocate returns the next strictly increasing local id.
func (c *correlator) allocate() uint64 {
	c.nextID++
	return c.nextID
}

// reference builds the entrust_reference stamped on outbound orders so
// pushes can be matched back to a local id without the vendor key.
func reference(sessionNo string, localID uint64) string {
	return fmt.Sprintf("%s_%06d", sessionNo, localID)
}

// localFromReference recovers the local id from an entrust_reference. Zero
// means the reference was not issued by this session.
func localFromReference(ref string) uint64 {
	idx := strings.LastIndexByte(ref, '_')
	if idx < 0 {
		return 0
	}
	n, err := strconv.ParseUint(ref[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (c *correlator) track(p *pendingRequest) {
	p.submittedAt = time.Now()
	c.pending[p.localID] = p
	if p.reqID != 0 {
		c.byReqID[p.reqID] = p.localID
	}
}

// lookupByReqID finds the pending matching a native send id. Orders stay
// pending between the first ack and their terminal status.
func (c *correlator) lookupByReqID(reqID int) *pendingRequest {
	localID, ok := c.byReqID[reqID]
	if !ok {
		return nil
	}
	return c.pending[localID]
}

// settle removes a pending for good. Returns false if it was already
// resolved, which callers treat as a duplicate response.
func (c *correlator) settle(localID uint64) bool {
	p, ok := c.pending[localID]
	if !ok {
		return false
	}
	delete(c.pending, localID)
	if p.reqID != 0 {
		delete(c.byReqID, p.reqID)
	}
	return true
}

// bindVendor attaches the counter's entrust_no to an order. Once bound the
// key never rebinds; a conflicting rebind attempt is reported.
func (c *correlator) bindVendor(localID uint64, entrustNo string) error {
	o, ok := c.orders[localID]
	if !ok {
		return fmt.Errorf("bind %s: no order %d", entrustNo, localID)
	}
	if o.VendorOrderID != "" && o.VendorOrderID != entrustNo {
		return fmt.Errorf("order %d already bound to %s, refusing %s", localID, o.VendorOrderID, entrustNo)
	}
	o.VendorOrderID = entrustNo
	c.orderByVendor[entrustNo] = localID
	if p, ok := c.pending[localID]; ok {
		p.vendorKey = entrustNo
	}
	return nil
}

// orderFor resolves an order by vendor key first, then by the adapter's own
// entrust_reference. The reference path covers the initial ack window before
// the vendor key is known.
func (c *correlator) orderFor(entrustNo, ref string) *gateway.Order {
	if entrustNo != "" {
		if id, ok := c.orderByVendor[entrustNo]; ok {
			return c.orders[id]
		}
	}
	if ref != "" {
		if id, ok := c.orderByRef[ref]; ok {
			return c.orders[id]
		}
	}
	return nil
}

// addOrder registers a freshly submitted order.
func (c *correlator) addOrder(o *gateway.Order, ref string) {
	c.orders[o.LocalID] = o
	c.orderByRef[ref] = o.LocalID
}

// applyStatus applies a translated status transition, enforcing
// monotonicity. It returns the updated copy and whether the transition was
// applied; stale transitions out of a terminal state are discarded.
func (c *correlator) applyStatus(o *gateway.Order, next gateway.OrderStatus, reason string) (gateway.Order, bool) {
	if !o.Status.CanTransition(next) {
		return *o, false
	}
	o.Status = next
	if reason != "" {
		o.Reason = reason
	}
	o.UpdatedAt = time.Now()
	return *o, true
}

// applyFill records a fill against an order, returning the trade and the
// updated order copy. Duplicate business_ids are dropped. The order moves to
// part-filled or filled depending on the cumulative quantity.
func (c *correlator) applyFill(o *gateway.Order, row tradeRow) (gateway.Trade, gateway.Order, bool) {
	if row.BusinessID != "" {
		if _, dup := c.tradeSeen[row.BusinessID]; dup {
			return gateway.Trade{}, *o, false
		}
		c.tradeSeen[row.BusinessID] = struct{}{}
	}
	trade := gateway.Trade{
		LocalOrderID:  o.LocalID,
		VendorTradeID: row.BusinessID,
		Symbol:        o.Symbol,
		Exchange:      o.Exchange,
		Side:          o.Side,
		Price:         row.Price,
		Quantity:      row.Quantity,
		Time:          row.Time,
	}
	if !o.Status.Terminal() {
		o.Filled = o.Filled.Add(row.Quantity)
		if o.Filled.GreaterThanOrEqual(o.Quantity) {
			o.Status = gateway.StatusFilled
		} else {
			o.Status = gateway.StatusPartFilled
		}
		o.UpdatedAt = time.Now()
	}
	return trade, *o, true
}

// sweep force-resolves requests older than the configured timeout, returning
// them for rejection. Invoked periodically by the gateway.
func (c *correlator) sweep(now time.Time) []*pendingRequest {
	var expired []*pendingRequest
	for _, p := range c.pending {
		if now.Sub(p.submittedAt) >= c.timeout {
			expired = append(expired, p)
		}
	}
	for _, p := range expired {
		c.settle(p.localID)
	}
	return expired
}

// drain removes and returns every outstanding pending, used when the session
// degrades or terminates so nothing is left pending indefinitely.
func (c *correlator) drain() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	for _, p := range out {
		c.settle(p.localID)
	}
	return out
}
