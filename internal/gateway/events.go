package gateway

import "time"

// EventType tags the payload carried by an Event.
type EventType string

const (
	EventOrderUpdate      EventType = "order"
	EventTradeUpdate      EventType = "trade"
	EventTickUpdate       EventType = "tick"
	EventQueryResult      EventType = "query"
	EventErrorNotice      EventType = "error"
	EventConnectionStatus EventType = "connection"
)

// SessionState is the adapter's connection lifecycle state as seen by the host.
type SessionState string

const (
	StateDisconnected      SessionState = "disconnected"
	StateConnecting        SessionState = "connecting"
	StateAuthenticating    SessionState = "authenticating"
	StateReady             SessionState = "ready"
	StateDegraded          SessionState = "degraded"
	StateDisconnectedFinal SessionState = "disconnected-final"
)

// ConnectionStatus reports a session state transition. Fatal is set exactly
// once, when the session lands on StateDisconnectedFinal.
type ConnectionStatus struct {
	State  SessionState
	Reason string
	Fatal  bool
}

// QueryResult carries the typed rows of a completed query. Exactly one of the
// slices (or Account) is populated, matching Kind.
type QueryResult struct {
	LocalID   uint64
	Kind      QueryKind
	Account   *Account
	Positions []Position
	Orders    []Order
	Trades    []Trade
	Contracts []Contract
	Err       string // non-empty when the query failed at the broker
}

// ErrorNotice surfaces an asynchronous, non-request-scoped broker error.
type ErrorNotice struct {
	Code    string
	Message string
	// Unknown marks codes the translator has no mapping for. These are
	// forwarded as information, never treated as failures.
	Unknown bool
}

// Event is the tagged union delivered to the host. Exactly one payload
// pointer is non-nil, matching Type. Events cross the dispatch queue in
// arrival order and are never delivered twice.
type Event struct {
	Type       EventType
	Time       time.Time
	Order      *Order
	Trade      *Trade
	Tick       *MarketTick
	Query      *QueryResult
	Error      *ErrorNotice
	Connection *ConnectionStatus
}

// NewOrderEvent clones the order so later mutations by the adapter cannot
// race the host's copy.
func NewOrderEvent(o Order) Event {
	return Event{Type: EventOrderUpdate, Time: time.Now(), Order: &o}
}

func NewTradeEvent(t Trade) Event {
	return Event{Type: EventTradeUpdate, Time: time.Now(), Trade: &t}
}

func NewTickEvent(tk MarketTick) Event {
	return Event{Type: EventTickUpdate, Time: time.Now(), Tick: &tk}
}

func NewQueryEvent(q QueryResult) Event {
	return Event{Type: EventQueryResult, Time: time.Now(), Query: &q}
}

func NewErrorEvent(n ErrorNotice) Event {
	return Event{Type: EventErrorNotice, Time: time.Now(), Error: &n}
}

func NewConnectionEvent(s ConnectionStatus) Event {
	return Event{Type: EventConnectionStatus, Time: time.Now(), Connection: &s}
}
