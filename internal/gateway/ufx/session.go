package ufx

import (
	"time"

	"github.com/jpillora/backoff"

	"ufxgate/internal/gateway"
)

// missedBeatLimit is how many consecutive unanswered heartbeats degrade the
// session.
const missedBeatLimit = 3

// session holds the connection lifecycle state and the identity fields the
// counter hands back at login. Mutated only under the gateway mutex.
type session struct {
	state gateway.SessionState

	clientID  string
	sessionNo string
	userToken string

	lastBeat    time.Time
	awaitingAck bool
	missedBeats int

	attempts    int
	maxAttempts int
	bo          *backoff.Backoff
}

func newSession(maxAttempts int, baseDelay, maxDelay time.Duration) *session {
	return &session{
		state:       gateway.StateDisconnected,
		maxAttempts: maxAttempts,
		bo: &backoff.Backoff{
			Min:    baseDelay,
			Max:    maxDelay,
			Factor: 2,
			Jitter: true,
		},
	}
}

func (s *session) is(state gateway.SessionState) bool { return s.state == state }

// to moves the machine to next. Transitions out of the final state are
// refused; everything else is driven by the gateway, which knows the legal
// edges.
func (s *session) to(next gateway.SessionState) bool {
	if s.state == gateway.StateDisconnectedFinal {
		return false
	}
	if s.state == next {
		return false
	}
	s.state = next
	return true
}

// loggedIn records the identity fields from a successful login reply.
func (s *session) loggedIn(clientID, sessionNo, userToken string) {
	s.clientID = clientID
	s.sessionNo = sessionNo
	s.userToken = userToken
	s.awaitingAck = false
	s.missedBeats = 0
	s.lastBeat = time.Now()
}

// beatAcked resets the missed counter when the counter answers a probe.
func (s *session) beatAcked() {
	s.awaitingAck = false
	s.missedBeats = 0
	s.lastBeat = time.Now()
}

// probeSent records an outstanding heartbeat awaiting its ack.
func (s *session) probeSent() {
	s.awaitingAck = true
}

// beatMissed counts an unanswered probe and reports whether the limit was
// reached.
func (s *session) beatMissed() bool {
	if !s.awaitingAck {
		return false
	}
	s.missedBeats++
	return s.missedBeats >= missedBeatLimit
}

// nextReconnect returns the delay before the next re-login attempt, or
// ok=false once the attempt budget is exhausted.
func (s *session) nextReconnect() (time.Duration, bool) {
	if s.attempts >= s.maxAttempts {
		return 0, false
	}
	s.attempts++
	return s.bo.Duration(), true
}

// reconnected clears the backoff state after a successful re-login.
func (s *session) reconnected() {
	s.attempts = 0
	s.bo.Reset()
}
