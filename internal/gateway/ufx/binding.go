package ufx

// This file pins down the capability surface the adapter needs from the
// native T2 connection library. The library itself (a C SDK reached through
// cgo) is not part of this package; internal/broker/native wraps it and
// internal/broker/sim stands in for it in dry-run mode and tests.

// Record is one unpacked result row: column name to string value, exactly as
// the counter returns it. All numeric fields arrive as fixed-decimal strings.
type Record map[string]string

// Callback receives asynchronous pushes from the connection. Both methods
// are invoked on the library's own callback thread; implementations must not
// block.
type Callback interface {
	// OnReceived delivers the rows of one business message. reqID matches
	// the value returned by the SendBizMsg call that triggered the reply;
	// unsolicited pushes (function 620003, heartbeats) carry reqID 0.
	OnReceived(function int, reqID int, rows []Record)

	// OnClosed signals that the transport dropped.
	OnClosed()
}

// Conn is one live connection to the counter.
type Conn interface {
	// SendBizMsg packs fields and sends them under the given function
	// number, returning the library-assigned request id.
	SendBizMsg(function int, fields map[string]string) (int, error)

	Close() error
}

// DialConfig carries what the connection library needs to establish the
// transport. Servers uses the "host:port[;host:port]" form.
type DialConfig struct {
	Servers     string
	FundAccount string
	Password    string
}

// Dialer establishes connections. The native implementation wires the T2
// config object and callback registration behind this.
type Dialer interface {
	Dial(cfg DialConfig, cb Callback) (Conn, error)
}

// MarketData is the quote source polled for subscribed instruments. The UFX
// counter itself does not push level quotes; they come from a separate
// datafeed, so this is a distinct capability from Conn.
type MarketData interface {
	// RealtimeQuotes returns one row per requested symbol. Missing symbols
	// are simply absent from the result.
	RealtimeQuotes(symbols []string) ([]Record, error)
}
