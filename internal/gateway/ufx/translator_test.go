package ufx

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ufxgate/internal/gateway"
)

func TestStatusFromCode(t *testing.T) {
	tests := []struct {
		code  string
		want  gateway.OrderStatus
		known bool
	}{
		{"0", gateway.StatusSubmitted, true},
		{"1", gateway.StatusSubmitted, true},
		{"2", gateway.StatusAccepted, true},
		{"3", gateway.StatusAccepted, true},
		{"4", gateway.StatusPartFilled, true},
		{"7", gateway.StatusPartFilled, true},
		{"5", gateway.StatusCancelled, true},
		{"6", gateway.StatusCancelled, true},
		{"8", gateway.StatusFilled, true},
		{"9", gateway.StatusRejected, true},
		{"Z", gateway.StatusSubmitted, false},
		{"", gateway.StatusSubmitted, false},
	}
	for _, tt := range tests {
		st, known := statusFromCode(tt.code)
		assert.Equal(t, tt.want, st, "code %q", tt.code)
		assert.Equal(t, tt.known, known, "code %q", tt.code)
	}
}

func TestDecimalFieldExact(t *testing.T) {
	r := Record{"entrust_price": "10.50", "empty": ""}

	d, err := decimalField(r, "entrust_price")
	require.NoError(t, err)
	assert.Equal(t, "10.5", d.String())
	assert.True(t, d.Equal(decimal.RequireFromString("10.50")))

	d, err = decimalField(r, "empty")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = decimalField(Record{"x": "abc"}, "x")
	require.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	ts := parseTimestamp("20260826", "93005")
	assert.Equal(t, 2026, ts.Year())
	assert.Equal(t, time.August, ts.Month())
	assert.Equal(t, 26, ts.Day())
	assert.Equal(t, 9, ts.Hour())
	assert.Equal(t, 30, ts.Minute())
	assert.Equal(t, 5, ts.Second())

	// report_time with milliseconds
	ts = parseTimestamp("20260826", "093005123")
	assert.Equal(t, 9, ts.Hour())
	assert.Equal(t, 5, ts.Second())
}

func TestParseOrderRow(t *testing.T) {
	row, err := parseOrderRow(Record{
		"entrust_reference": "abc_000007",
		"entrust_no":        "100001",
		"stock_code":        "600000",
		"exchange_type":     "1",
		"entrust_bs":        "1",
		"entrust_prop":      "0",
		"entrust_price":     "10.50",
		"entrust_amount":    "100",
		"business_amount":   "0",
		"entrust_status":    "2",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc_000007", row.Reference)
	assert.Equal(t, "100001", row.EntrustNo)
	assert.Equal(t, gateway.ExchangeSSE, row.Exchange)
	assert.Equal(t, gateway.SideBuy, row.Side)
	assert.Equal(t, gateway.OrderTypeLimit, row.Type)
	assert.Equal(t, gateway.StatusAccepted, row.Status)
	assert.True(t, row.KnownCode)
	assert.False(t, row.IsCancel)

	cancel, err := parseOrderRow(Record{"entrust_type": "2", "entrust_status": "2"})
	require.NoError(t, err)
	assert.True(t, cancel.IsCancel)
}

func TestParseTradeRow(t *testing.T) {
	row, err := parseTradeRow(Record{
		"entrust_no":      "100001",
		"business_id":     "b-1",
		"stock_code":      "600000",
		"exchange_type":   "1",
		"entrust_bs":      "2",
		"business_price":  "10.48",
		"business_amount": "100",
		"entrust_status":  "8",
		"init_date":       "20260826",
		"business_time":   "101500",
	})
	require.NoError(t, err)
	assert.Equal(t, "b-1", row.BusinessID)
	assert.Equal(t, gateway.SideSell, row.Side)
	assert.True(t, row.Price.Equal(decimal.RequireFromString("10.48")))
	assert.Equal(t, gateway.StatusFilled, row.Status)
	assert.False(t, row.IsCancel)

	withdrawn, err := parseTradeRow(Record{"real_type": "2", "business_amount": "0"})
	require.NoError(t, err)
	assert.True(t, withdrawn.IsCancel)
}

func TestRowError(t *testing.T) {
	assert.Nil(t, rowError(nil))
	assert.Nil(t, rowError([]Record{{"error_no": "0"}}))
	assert.Nil(t, rowError([]Record{{"stock_code": "600000"}}))

	verr := rowError([]Record{{"error_no": "331", "error_info": "bad password"}})
	require.NotNil(t, verr)
	assert.Equal(t, "331", verr.Code)
	assert.Equal(t, "bad password", verr.Message)
}

func TestPushIsTrade(t *testing.T) {
	assert.False(t, pushIsTrade(nil))
	assert.False(t, pushIsTrade([]Record{{"entrust_status": "2"}}))
	assert.True(t, pushIsTrade([]Record{{"init_date": "20260826"}}))
}

func TestParseQuoteRow(t *testing.T) {
	tick, err := parseQuoteRow(Record{
		"code":   "600000",
		"price":  "10.52",
		"volume": "123400",
		"date":   "2026-08-26",
		"time":   "10:15:00",
		"b1_p":   "10.51",
		"b1_v":   "2000",
		"a1_p":   "10.52",
		"a1_v":   "1500",
		"a2_p":   "0",
	}, gateway.ExchangeSSE)
	require.NoError(t, err)
	assert.Equal(t, "600000", tick.Symbol)
	assert.True(t, tick.Last.Equal(decimal.RequireFromString("10.52")))
	require.Len(t, tick.Bids, 1)
	require.Len(t, tick.Asks, 1)
	assert.True(t, tick.Bids[0].Size.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, 10, tick.Time.Hour())
}

func TestOrderFieldsCarryReference(t *testing.T) {
	env := sessionEnv{branchNo: 1, entrustWay: "7", account: "800038", clientID: "c1", userToken: "tok"}
	f := orderFields(env, gateway.OrderRequest{
		Symbol:   "600000",
		Exchange: gateway.ExchangeSSE,
		Side:     gateway.SideBuy,
		Type:     gateway.OrderTypeLimit,
		Price:    decimal.RequireFromString("10.50"),
		Quantity: decimal.NewFromInt(100),
	}, "sess_000001")

	assert.Equal(t, "1", f["exchange_type"])
	assert.Equal(t, "600000", f["stock_code"])
	assert.Equal(t, "1", f["entrust_bs"])
	assert.Equal(t, "0", f["entrust_prop"])
	assert.Equal(t, "10.5", f["entrust_price"])
	assert.Equal(t, "100", f["entrust_amount"])
	assert.Equal(t, "sess_000001", f["entrust_reference"])
	assert.Equal(t, "800038", f["fund_account"])
	assert.Equal(t, "tok", f["user_token"])
}
