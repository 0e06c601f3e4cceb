// Package sim is an in-process stand-in for the UFX counter, speaking the
// same function numbers and field vocabulary as the native connection
// library. It backs dry-run mode and the adapter tests; replies and pushes
// are delivered on their own goroutine, like the real callback thread.
package sim

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ufxgate/internal/gateway/ufx"
)

// Options tunes counter behavior.
type Options struct {
	// Account/Password are the only accepted credentials. Empty means any
	// non-empty value logs in.
	Account  string
	Password string
	// FillDelay is the pause between the order ack and the fill push.
	FillDelay time.Duration
	// FillParts splits each order into this many equal fills (default 1).
	FillParts int
}

// Broker simulates one UFX counter with a small instrument board.
type Broker struct {
	opts Options

	mu        sync.Mutex
	reqSeq    int
	entrustNo int
	orders    map[string]*boardOrder // by entrust_no
	balance   decimal.Decimal
	positions map[string]decimal.Decimal
	prices    map[string]decimal.Decimal
	contracts []ufx.Record
	sessionNo string
}

type boardOrder struct {
	entrustNo string
	reference string
	symbol    string
	exchange  string
	side      string
	prop      string
	price     decimal.Decimal
	quantity  decimal.Decimal
	filled    decimal.Decimal
	status    string
}

// New builds a broker with a default two-instrument board.
func New(opts Options) *Broker {
	if opts.FillParts <= 0 {
		opts.FillParts = 1
	}
	b := &Broker{
		opts:      opts,
		orders:    make(map[string]*boardOrder),
		balance:   decimal.NewFromInt(1_000_000),
		positions: make(map[string]decimal.Decimal),
		prices: map[string]decimal.Decimal{
			"600000": decimal.RequireFromString("10.50"),
			"000001": decimal.RequireFromString("12.34"),
		},
		sessionNo: strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}
	b.contracts = []ufx.Record{
		{"stock_code": "600000", "exchange_type": "1", "stock_name": "SPD Bank", "price_step": "0.01", "buy_unit": "100"},
		{"stock_code": "000001", "exchange_type": "2", "stock_name": "PAB", "price_step": "0.01", "buy_unit": "100"},
	}
	return b
}

// SetPrice adjusts the board price used for quotes and fills.
func (b *Broker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

// Dial implements ufx.Dialer.
func (b *Broker) Dial(cfg ufx.DialConfig, cb ufx.Callback) (ufx.Conn, error) {
	if strings.TrimSpace(cfg.FundAccount) == "" {
		return nil, fmt.Errorf("sim: fund account required")
	}
	return &conn{broker: b, cb: cb, account: cfg.FundAccount, password: cfg.Password}, nil
}

// RealtimeQuotes implements ufx.MarketData with a one-level board snapshot.
func (b *Broker) RealtimeQuotes(symbols []string) ([]ufx.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var rows []ufx.Record
	for _, sym := range symbols {
		price, ok := b.prices[sym]
		if !ok {
			continue
		}
		step := decimal.RequireFromString("0.01")
		rows = append(rows, ufx.Record{
			"code":   sym,
			"price":  price.String(),
			"b1_p":   price.Sub(step).String(),
			"b1_v":   "1200",
			"a1_p":   price.Add(step).String(),
			"a1_v":   "900",
			"volume": "10000",
			"date":   now.Format("2006-01-02"),
			"time":   now.Format("15:04:05"),
		})
	}
	return rows, nil
}

type conn struct {
	broker   *Broker
	cb       ufx.Callback
	account  string
	password string

	closedMu sync.Mutex
	closed   bool
}

func (c *conn) Close() error {
	c.closedMu.Lock()
	c.closed = true
	c.closedMu.Unlock()
	return nil
}

func (c *conn) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closed
}

// deliver hands rows to the callback on the broker's own goroutine.
func (c *conn) deliver(function, reqID int, rows []ufx.Record) {
	go func() {
		if c.isClosed() {
			return
		}
		c.cb.OnReceived(function, reqID, rows)
	}()
}

// SendBizMsg implements ufx.Conn.
func (c *conn) SendBizMsg(function int, fields map[string]string) (int, error) {
	if c.isClosed() {
		return 0, fmt.Errorf("sim: connection closed")
	}
	b := c.broker
	b.mu.Lock()
	b.reqSeq++
	reqID := b.reqSeq
	b.mu.Unlock()

	switch function {
	case ufx.FunctionHeartbeat:
		c.deliver(ufx.FunctionHeartbeat, reqID, nil)
	case ufx.FunctionUserLogin:
		c.handleLogin(reqID)
	case ufx.FunctionSendOrder:
		c.handleSendOrder(reqID, fields)
	case ufx.FunctionCancelOrder:
		c.handleCancel(reqID, fields)
	case ufx.FunctionSubscribe:
		// subscription registration has no reply
	case ufx.FunctionQueryAccount:
		c.deliver(ufx.FunctionQueryAccount, reqID, c.accountRows())
	case ufx.FunctionQueryPosition:
		c.deliver(ufx.FunctionQueryPosition, reqID, c.positionRows())
	case ufx.FunctionQueryOrder:
		c.deliver(ufx.FunctionQueryOrder, reqID, c.orderRows())
	case ufx.FunctionQueryTrade:
		c.deliver(ufx.FunctionQueryTrade, reqID, nil)
	case ufx.FunctionQueryContract:
		c.deliver(ufx.FunctionQueryContract, reqID, append([]ufx.Record(nil), c.broker.contracts...))
	default:
		return 0, fmt.Errorf("sim: unsupported function %d", function)
	}
	return reqID, nil
}

func (c *conn) handleLogin(reqID int) {
	b := c.broker
	if (b.opts.Account != "" && c.account != b.opts.Account) ||
		(b.opts.Password != "" && c.password != b.opts.Password) {
		c.deliver(ufx.FunctionUserLogin, reqID, []ufx.Record{{
			"error_no":   "331",
			"error_info": "invalid account or password",
		}})
		return
	}
	c.deliver(ufx.FunctionUserLogin, reqID, []ufx.Record{{
		"error_no":   "0",
		"client_id":  c.account,
		"session_no": b.sessionNo,
		"user_token": uuid.NewString(),
	}})
}

func (c *conn) handleSendOrder(reqID int, fields map[string]string) {
	b := c.broker
	qty, err := decimal.NewFromString(fields["entrust_amount"])
	if err != nil || !qty.IsPositive() {
		c.deliver(ufx.FunctionSendOrder, reqID, []ufx.Record{{
			"error_no":   "301",
			"error_info": "bad entrust_amount",
		}})
		return
	}
	price, err := decimal.NewFromString(fields["entrust_price"])
	if err != nil {
		c.deliver(ufx.FunctionSendOrder, reqID, []ufx.Record{{
			"error_no":   "302",
			"error_info": "bad entrust_price",
		}})
		return
	}

	b.mu.Lock()
	b.entrustNo++
	order := &boardOrder{
		entrustNo: strconv.Itoa(100000 + b.entrustNo),
		reference: fields["entrust_reference"],
		symbol:    fields["stock_code"],
		exchange:  fields["exchange_type"],
		side:      fields["entrust_bs"],
		prop:      fields["entrust_prop"],
		price:     price,
		quantity:  qty,
		status:    "2",
	}
	b.orders[order.entrustNo] = order
	parts := b.opts.FillParts
	delay := b.opts.FillDelay
	b.mu.Unlock()

	c.deliver(ufx.FunctionSendOrder, reqID, []ufx.Record{{
		"error_no":   "0",
		"entrust_no": order.entrustNo,
	}})

	go c.fill(order, parts, delay)
}

// fill pushes trade confirmations on the subscription channel until the
// order is done, splitting the quantity into equal parts.
func (c *conn) fill(order *boardOrder, parts int, delay time.Duration) {
	b := c.broker
	part := order.quantity.DivRound(decimal.NewFromInt(int64(parts)), 0)
	remaining := order.quantity
	for i := 0; i < parts; i++ {
		time.Sleep(delay)
		b.mu.Lock()
		if order.status == "6" { // withdrawn before this slice filled
			b.mu.Unlock()
			return
		}
		slice := part
		if i == parts-1 || slice.GreaterThan(remaining) {
			slice = remaining
		}
		remaining = remaining.Sub(slice)
		order.filled = order.filled.Add(slice)
		if remaining.IsZero() {
			order.status = "8"
		} else {
			order.status = "4"
		}
		row := ufx.Record{
			"entrust_reference": order.reference,
			"entrust_no":        order.entrustNo,
			"business_id":       uuid.NewString(),
			"stock_code":        order.symbol,
			"exchange_type":     order.exchange,
			"entrust_bs":        order.side,
			"business_price":    order.price.String(),
			"business_amount":   slice.String(),
			"entrust_status":    order.status,
			"init_date":         time.Now().Format("20060102"),
			"business_time":     time.Now().Format("150405"),
		}
		if order.side == "1" {
			b.positions[order.symbol] = b.positions[order.symbol].Add(slice)
			b.balance = b.balance.Sub(order.price.Mul(slice))
		} else {
			b.positions[order.symbol] = b.positions[order.symbol].Sub(slice)
			b.balance = b.balance.Add(order.price.Mul(slice))
		}
		done := order.status == "8"
		b.mu.Unlock()
		c.deliver(ufx.FunctionPush, 0, []ufx.Record{row})
		if done {
			return
		}
	}
}

func (c *conn) handleCancel(reqID int, fields map[string]string) {
	b := c.broker
	b.mu.Lock()
	order := b.orders[fields["entrust_no"]]
	if order == nil {
		for _, o := range b.orders {
			if o.reference == fields["entrust_reference"] {
				order = o
				break
			}
		}
	}
	var reply ufx.Record
	switch {
	case order == nil:
		reply = ufx.Record{"error_no": "321", "error_info": "entrust not found"}
	case order.status == "8":
		reply = ufx.Record{"error_no": "322", "error_info": "entrust already filled"}
	case order.status == "6":
		reply = ufx.Record{"error_no": "323", "error_info": "entrust already withdrawn"}
	default:
		order.status = "6"
		reply = ufx.Record{"error_no": "0", "entrust_no": order.entrustNo}
	}
	b.mu.Unlock()
	c.deliver(ufx.FunctionCancelOrder, reqID, []ufx.Record{reply})
}

func (c *conn) accountRows() []ufx.Record {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	return []ufx.Record{{
		"error_no":        "0",
		"current_balance": b.balance.String(),
		"enable_balance":  b.balance.String(),
		"frozen_balance":  "0",
	}}
}

func (c *conn) positionRows() []ufx.Record {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	var rows []ufx.Record
	for sym, vol := range b.positions {
		if vol.IsZero() {
			continue
		}
		price := b.prices[sym]
		rows = append(rows, ufx.Record{
			"stock_code":     sym,
			"exchange_type":  "1",
			"current_amount": vol.String(),
			"enable_amount":  vol.String(),
			"frozen_amount":  "0",
			"av_cost_price":  price.String(),
			"income_balance": "0",
		})
	}
	return rows
}

func (c *conn) orderRows() []ufx.Record {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	var rows []ufx.Record
	for _, o := range b.orders {
		rows = append(rows, ufx.Record{
			"entrust_reference": o.reference,
			"entrust_no":        o.entrustNo,
			"stock_code":        o.symbol,
			"exchange_type":     o.exchange,
			"entrust_bs":        o.side,
			"entrust_prop":      o.prop,
			"entrust_price":     o.price.String(),
			"entrust_amount":    o.quantity.String(),
			"business_amount":   o.filled.String(),
			"entrust_status":    o.status,
			"report_time":       time.Now().Format("150405"),
		})
	}
	return rows
}
