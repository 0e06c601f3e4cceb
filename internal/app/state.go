package app

import (
	"sort"
	"sync"

	"ufxgate/internal/gateway"
	"ufxgate/internal/logger"
)

const tradeHistoryLimit = 1000

// Store consumes the gateway's event stream and keeps the latest snapshot
// of session, order, trade and tick state for the ops API. It implements
// gateway.EventPublisher; an optional downstream publisher receives every
// event unchanged, so the host bus sees the same ordered stream.
type Store struct {
	mu        sync.RWMutex
	session   gateway.ConnectionStatus
	orders    map[uint64]gateway.Order
	trades    []gateway.Trade
	ticks     map[string]gateway.MarketTick
	account   *gateway.Account
	positions []gateway.Position

	next gateway.EventPublisher
}

func NewStore(next gateway.EventPublisher) *Store {
	return &Store{
		session: gateway.ConnectionStatus{State: gateway.StateDisconnected},
		orders:  make(map[uint64]gateway.Order),
		ticks:   make(map[string]gateway.MarketTick),
		next:    next,
	}
}

// Publish implements gateway.EventPublisher. Called from the gateway's
// single dispatch goroutine, in delivery order.
func (s *Store) Publish(evt gateway.Event) {
	s.mu.Lock()
	switch evt.Type {
	case gateway.EventConnectionStatus:
		s.session = *evt.Connection
		logger.Infof("connection: %s (%s)", evt.Connection.State, evt.Connection.Reason)
	case gateway.EventOrderUpdate:
		s.orders[evt.Order.LocalID] = *evt.Order
	case gateway.EventTradeUpdate:
		s.trades = append(s.trades, *evt.Trade)
		if len(s.trades) > tradeHistoryLimit {
			s.trades = s.trades[len(s.trades)-tradeHistoryLimit:]
		}
	case gateway.EventTickUpdate:
		s.ticks[evt.Tick.Symbol] = *evt.Tick
	case gateway.EventQueryResult:
		if evt.Query.Err == "" {
			if evt.Query.Account != nil {
				acct := *evt.Query.Account
				s.account = &acct
			}
			if evt.Query.Kind == gateway.QueryPositions {
				s.positions = append([]gateway.Position(nil), evt.Query.Positions...)
			}
			for _, o := range evt.Query.Orders {
				s.orders[o.LocalID] = o
			}
		}
	case gateway.EventErrorNotice:
		if evt.Error.Unknown {
			logger.Warnf("unknown vendor code %q: %s", evt.Error.Code, evt.Error.Message)
		} else {
			logger.Warnf("broker error %s: %s", evt.Error.Code, evt.Error.Message)
		}
	}
	s.mu.Unlock()

	if s.next != nil {
		s.next.Publish(evt)
	}
}

// Session returns the last reported connection status.
func (s *Store) Session() gateway.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Orders returns all known orders sorted by local id.
func (s *Store) Orders() []gateway.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out
}

// Order returns one order by local id.
func (s *Store) Order(localID uint64) (gateway.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[localID]
	return o, ok
}

// Trades returns up to limit most recent fills.
func (s *Store) Trades(limit int) []gateway.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.trades) {
		limit = len(s.trades)
	}
	out := make([]gateway.Trade, limit)
	copy(out, s.trades[len(s.trades)-limit:])
	return out
}

// Tick returns the latest tick for a symbol.
func (s *Store) Tick(symbol string) (gateway.MarketTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[symbol]
	return t, ok
}

// Account returns the last account snapshot, if any query completed.
func (s *Store) Account() *gateway.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return nil
	}
	acct := *s.account
	return &acct
}

// Positions returns the last position snapshot.
func (s *Store) Positions() []gateway.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gateway.Position(nil), s.positions...)
}
