package gateway

// EventPublisher is the host event channel boundary. The host supplies an
// implementation; the adapter only needs the ability to publish. Publish is
// called from a single dispatch goroutine, in arrival order.
type EventPublisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Gateway is the uniform trading interface exposed to the host application.
// All methods return immediately: outcomes arrive as events through the
// publisher the gateway was constructed with.
type Gateway interface {
	Name() string

	// Connect starts the session. Structural credential problems fail fast;
	// everything else is reported via ConnectionStatus events.
	Connect() error

	// Disconnect tears the session down from any state. Idempotent.
	Disconnect()

	// SubmitOrder validates and dispatches an order, returning its local id.
	SubmitOrder(req OrderRequest) (uint64, error)

	// CancelOrder requests withdrawal of the order with the given local id.
	// The cancel itself is tracked as a request and resolves asynchronously.
	CancelOrder(req CancelRequest) (uint64, error)

	// Query dispatches an account/position/order/trade/contract query and
	// returns its local id; the result arrives as a QueryResult event.
	Query(kind QueryKind) (uint64, error)

	// Subscribe registers an instrument for market data ticks.
	Subscribe(req SubscribeRequest) error

	// State returns the current session state.
	State() SessionState
}
