package ufx

import "ufxgate/internal/gateway"

// UFX counter function numbers.
const (
	FunctionUserLogin     = 331100
	FunctionQueryContract = 330300
	FunctionQueryOrder    = 333101
	FunctionQueryTrade    = 333102
	FunctionQueryAccount  = 332255
	FunctionQueryPosition = 333104
	FunctionSendOrder     = 333002
	FunctionCancelOrder   = 333017
	FunctionHeartbeat     = 620000
	FunctionSubscribe     = 620001
	FunctionPush          = 620003
)

// Subscription issue types for function 620001.
const (
	issueTypeOrder = "23"
	issueTypeTrade = "12"
)

// exchangeFromUFX maps the counter's exchange_type values. "G" and "S" are
// both Stock Connect routes to Hong Kong.
var exchangeFromUFX = map[string]gateway.Exchange{
	"1": gateway.ExchangeSSE,
	"2": gateway.ExchangeSZSE,
	"G": gateway.ExchangeSEHK,
	"S": gateway.ExchangeSEHK,
}

var exchangeToUFX = map[gateway.Exchange]string{
	gateway.ExchangeSSE:  "1",
	gateway.ExchangeSZSE: "2",
	gateway.ExchangeSEHK: "G",
}

// entrust_bs
var sideFromUFX = map[string]gateway.Side{
	"1": gateway.SideBuy,
	"2": gateway.SideSell,
}

var sideToUFX = map[gateway.Side]string{
	gateway.SideBuy:  "1",
	gateway.SideSell: "2",
}

// entrust_prop
var orderTypeFromUFX = map[string]gateway.OrderType{
	"0": gateway.OrderTypeLimit,
	"U": gateway.OrderTypeMarket,
}

var orderTypeToUFX = map[gateway.OrderType]string{
	gateway.OrderTypeLimit:  "0",
	gateway.OrderTypeMarket: "U",
}

// entrust_status. 0/1 are counter-side submitting states, 2/3 confirmed at
// the exchange, 4/7 partially traded, 5/6 withdrawn, 8 fully traded, 9
// rejected.
var statusFromUFX = map[string]gateway.OrderStatus{
	"0": gateway.StatusSubmitted,
	"1": gateway.StatusSubmitted,
	"2": gateway.StatusAccepted,
	"3": gateway.StatusAccepted,
	"4": gateway.StatusPartFilled,
	"7": gateway.StatusPartFilled,
	"5": gateway.StatusCancelled,
	"6": gateway.StatusCancelled,
	"8": gateway.StatusFilled,
	"9": gateway.StatusRejected,
}

var queryFunction = map[gateway.QueryKind]int{
	gateway.QueryAccount:   FunctionQueryAccount,
	gateway.QueryPositions: FunctionQueryPosition,
	gateway.QueryOrders:    FunctionQueryOrder,
	gateway.QueryTrades:    FunctionQueryTrade,
	gateway.QueryContracts: FunctionQueryContract,
}
