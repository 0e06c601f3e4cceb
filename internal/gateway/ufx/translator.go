package ufx

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ufxgate/internal/gateway"
)

// The translator is the stateless mapping layer between normalized types and
// UFX field maps. Vendor numerics are fixed-decimal strings and are parsed
// with shopspring/decimal so no value ever passes through a float.

var chinaTZ = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

// sessionEnv carries the per-session identity fields stamped on every
// outbound request.
type sessionEnv struct {
	branchNo   int
	entrustWay string
	station    string
	account    string
	password   string
	clientID   string
	userToken  string
}

func (e sessionEnv) base() map[string]string {
	return map[string]string{
		"op_branch_no":   "0",
		"op_entrust_way": e.entrustWay,
		"op_station":     e.station,
		"branch_no":      strconv.Itoa(e.branchNo),
		"client_id":      e.clientID,
		"fund_account":   e.account,
		"password":       e.password,
		"password_type":  "2",
		"user_token":     e.userToken,
	}
}

func loginFields(e sessionEnv) map[string]string {
	return map[string]string{
		"op_branch_no":    "0",
		"op_entrust_way":  e.entrustWay,
		"op_station":      e.station,
		"branch_no":       strconv.Itoa(e.branchNo),
		"password":        e.password,
		"password_type":   "2",
		"input_content":   "1",
		"account_content": e.account,
		"content_type":    "0",
	}
}

func orderFields(e sessionEnv, req gateway.OrderRequest, reference string) map[string]string {
	f := e.base()
	f["exchange_type"] = exchangeToUFX[req.Exchange]
	f["stock_code"] = req.Symbol
	f["entrust_amount"] = req.Quantity.String()
	f["entrust_price"] = req.Price.String()
	f["entrust_bs"] = sideToUFX[req.Side]
	f["entrust_prop"] = orderTypeToUFX[req.Type]
	f["entrust_reference"] = reference
	return f
}

func cancelFields(e sessionEnv, entrustNo, reference string) map[string]string {
	f := e.base()
	f["entrust_no"] = entrustNo
	f["entrust_reference"] = reference
	return f
}

func queryFields(e sessionEnv) map[string]string {
	f := e.base()
	f["request_num"] = "10000"
	return f
}

func contractQueryFields(e sessionEnv, exchangeType string) map[string]string {
	return map[string]string{
		"op_branch_no":   "0",
		"op_entrust_way": e.entrustWay,
		"op_station":     e.station,
		"fund_account":   e.account,
		"password":       e.password,
		"query_type":     "1",
		"exchange_type":  exchangeType,
		"stock_type":     "0",
	}
}

func subscribeFields(e sessionEnv, issueType string) map[string]string {
	f := e.base()
	f["issue_type"] = issueType
	return f
}

// rowError inspects the leading row for the counter's error_no/error_info
// pair. error_no "0" (or absent) means success.
func rowError(rows []Record) *gateway.VendorError {
	if len(rows) == 0 {
		return nil
	}
	raw := strings.TrimSpace(rows[0]["error_no"])
	if raw == "" || raw == "0" {
		return nil
	}
	return &gateway.VendorError{Code: raw, Message: rows[0]["error_info"]}
}

// statusFromCode maps entrust_status. ok is false for codes outside the
// known table; callers forward those as UnknownVendorCode information and
// fall back to StatusSubmitted, same as the counter's own clients do.
func statusFromCode(code string) (gateway.OrderStatus, bool) {
	st, ok := statusFromUFX[code]
	if !ok {
		return gateway.StatusSubmitted, false
	}
	return st, true
}

func decimalField(r Record, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(r[key])
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %s=%q: %w", key, raw, err)
	}
	return d, nil
}

// parseTimestamp combines the counter's YYYYMMDD date and HHMMSS time
// fields. Either may arrive short; times are zero-padded on the left, and a
// missing date means today.
func parseTimestamp(dateStr, timeStr string) time.Time {
	dateStr = strings.TrimSpace(dateStr)
	timeStr = strings.TrimSpace(timeStr)
	if len(timeStr) > 6 {
		timeStr = timeStr[:len(timeStr)-3] // report_time carries milliseconds
	}
	for len(timeStr) < 6 {
		timeStr = "0" + timeStr
	}
	if dateStr == "" {
		dateStr = time.Now().In(chinaTZ).Format("20060102")
	}
	t, err := time.ParseInLocation("20060102 150405", dateStr+" "+timeStr, chinaTZ)
	if err != nil {
		return time.Now().In(chinaTZ)
	}
	return t
}

// orderRow is a decoded order push/query row, still keyed by the vendor's
// identifiers; the correlator resolves them to local state.
type orderRow struct {
	Reference string // entrust_reference, adapter-assigned
	EntrustNo string // counter-assigned order id
	Symbol    string
	Exchange  gateway.Exchange
	Side      gateway.Side
	Type      gateway.OrderType
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Filled    decimal.Decimal
	StatusRaw string
	Status    gateway.OrderStatus
	KnownCode bool
	IsCancel  bool // entrust_type "2": withdrawal record, not an order
	Time      time.Time
}

func parseOrderRow(r Record) (orderRow, error) {
	price, err := decimalField(r, "entrust_price")
	if err != nil {
		return orderRow{}, err
	}
	qty, err := decimalField(r, "entrust_amount")
	if err != nil {
		return orderRow{}, err
	}
	filled, err := decimalField(r, "business_amount")
	if err != nil {
		return orderRow{}, err
	}
	raw := strings.TrimSpace(r["entrust_status"])
	st, known := statusFromCode(raw)
	return orderRow{
		Reference: strings.TrimSpace(r["entrust_reference"]),
		EntrustNo: strings.TrimSpace(r["entrust_no"]),
		Symbol:    r["stock_code"],
		Exchange:  exchangeFromUFX[r["exchange_type"]],
		Side:      sideFromUFX[r["entrust_bs"]],
		Type:      orderTypeFromUFX[r["entrust_prop"]],
		Price:     price,
		Quantity:  qty,
		Filled:    filled,
		StatusRaw: raw,
		Status:    st,
		KnownCode: known,
		IsCancel:  r["entrust_type"] == "2",
		Time:      parseTimestamp(r["init_date"], r["report_time"]),
	}, nil
}

// tradeRow is a decoded fill push/query row.
type tradeRow struct {
	Reference  string
	EntrustNo  string
	BusinessID string
	Symbol     string
	Exchange   gateway.Exchange
	Side       gateway.Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	StatusRaw  string
	Status     gateway.OrderStatus
	KnownCode  bool
	IsCancel   bool // real_type/real_status "2": withdrawal confirmation
	Time       time.Time
}

func parseTradeRow(r Record) (tradeRow, error) {
	price, err := decimalField(r, "business_price")
	if err != nil {
		return tradeRow{}, err
	}
	qty, err := decimalField(r, "business_amount")
	if err != nil {
		return tradeRow{}, err
	}
	raw := strings.TrimSpace(r["entrust_status"])
	st, known := statusFromCode(raw)
	return tradeRow{
		Reference:  strings.TrimSpace(r["entrust_reference"]),
		EntrustNo:  strings.TrimSpace(r["entrust_no"]),
		BusinessID: strings.TrimSpace(r["business_id"]),
		Symbol:     r["stock_code"],
		Exchange:   exchangeFromUFX[r["exchange_type"]],
		Side:       sideFromUFX[r["entrust_bs"]],
		Price:      price,
		Quantity:   qty,
		StatusRaw:  raw,
		Status:     st,
		KnownCode:  known,
		IsCancel:   r["real_type"] == "2" || r["real_status"] == "2",
		Time:       parseTimestamp(r["init_date"], r["business_time"]),
	}, nil
}

func parseAccountRow(r Record, accountID string) (gateway.Account, error) {
	balance, err := decimalField(r, "current_balance")
	if err != nil {
		return gateway.Account{}, err
	}
	frozen, err := decimalField(r, "frozen_balance")
	if err != nil {
		return gateway.Account{}, err
	}
	avail, err := decimalField(r, "enable_balance")
	if err != nil {
		return gateway.Account{}, err
	}
	return gateway.Account{
		AccountID: accountID,
		Balance:   balance,
		Frozen:    frozen,
		Available: avail,
	}, nil
}

func parsePositionRow(r Record) (gateway.Position, error) {
	volume, err := decimalField(r, "current_amount")
	if err != nil {
		return gateway.Position{}, err
	}
	avail, err := decimalField(r, "enable_amount")
	if err != nil {
		return gateway.Position{}, err
	}
	frozen, err := decimalField(r, "frozen_amount")
	if err != nil {
		return gateway.Position{}, err
	}
	cost, err := decimalField(r, "av_cost_price")
	if err != nil {
		return gateway.Position{}, err
	}
	pnl, err := decimalField(r, "income_balance")
	if err != nil {
		return gateway.Position{}, err
	}
	return gateway.Position{
		Symbol:    r["stock_code"],
		Exchange:  exchangeFromUFX[r["exchange_type"]],
		Volume:    volume,
		Available: avail,
		Frozen:    frozen,
		CostPrice: cost,
		PnL:       pnl,
	}, nil
}

func parseContractRow(r Record) (gateway.Contract, error) {
	tick, err := decimalField(r, "price_step")
	if err != nil {
		return gateway.Contract{}, err
	}
	lot, err := decimalField(r, "buy_unit")
	if err != nil {
		return gateway.Contract{}, err
	}
	return gateway.Contract{
		Symbol:    r["stock_code"],
		Exchange:  exchangeFromUFX[r["exchange_type"]],
		Name:      r["stock_name"],
		PriceTick: tick,
		LotSize:   lot,
	}, nil
}

// parseQuoteRow decodes one datafeed quote row into a tick. Depth levels
// b1..b5/a1..a5 are optional; empty levels are skipped.
func parseQuoteRow(r Record, exch gateway.Exchange) (gateway.MarketTick, error) {
	last, err := decimalField(r, "price")
	if err != nil {
		return gateway.MarketTick{}, err
	}
	volume, err := decimalField(r, "volume")
	if err != nil {
		return gateway.MarketTick{}, err
	}
	tick := gateway.MarketTick{
		Symbol:   r["code"],
		Exchange: exch,
		Last:     last,
		Volume:   volume,
		Time:     parseTimestamp(strings.ReplaceAll(r["date"], "-", ""), strings.ReplaceAll(r["time"], ":", "")),
	}
	for i := 1; i <= 5; i++ {
		if lvl, ok := depthLevel(r, fmt.Sprintf("b%d_p", i), fmt.Sprintf("b%d_v", i)); ok {
			tick.Bids = append(tick.Bids, lvl)
		}
		if lvl, ok := depthLevel(r, fmt.Sprintf("a%d_p", i), fmt.Sprintf("a%d_v", i)); ok {
			tick.Asks = append(tick.Asks, lvl)
		}
	}
	return tick, nil
}

func depthLevel(r Record, priceKey, sizeKey string) (gateway.DepthLevel, bool) {
	praw := strings.TrimSpace(r[priceKey])
	if praw == "" {
		return gateway.DepthLevel{}, false
	}
	price, err := decimal.NewFromString(praw)
	if err != nil || price.IsZero() {
		return gateway.DepthLevel{}, false
	}
	size, err := decimalField(r, sizeKey)
	if err != nil {
		return gateway.DepthLevel{}, false
	}
	return gateway.DepthLevel{Price: price, Size: size}, true
}

// pushIsTrade distinguishes the two payloads multiplexed on function 620003:
// fill confirmations carry init_date, order status pushes do not.
func pushIsTrade(rows []Record) bool {
	if len(rows) == 0 {
		return false
	}
	_, ok := rows[len(rows)-1]["init_date"]
	return ok
}
