package apkes

import "time"

// bootstrapState is the "small state machine {round_i, deadline} advanced by
// a single tick(now) call" spec.md section 9 prescribes as the
// language-neutral realisation of the source's cooperative coroutine. It is
// embedded in Engine and mutated only while holding Engine.mu.
type bootstrapState struct {
	active bool
	round  int
	onDone func()
}

// Bootstrap starts the handshake bootstrap process (spec.md section 4.1.1):
// it broadcasts the first HELLO immediately, then arms a periodic
// ROUND_DURATION timer to drive the remaining rounds. onDone is invoked
// exactly once, after the last round's timer fires, and is cleared
// immediately before being invoked so a second concurrent Bootstrap call (or
// a racing tick) can never fire it twice.
//
// Calling Bootstrap while a bootstrap is already in progress, or after one
// has already completed, is a no-op — spec.md section 8 invariant 5 bounds
// the callback to at most one invocation for the engine's lifetime.
func (e *Engine) Bootstrap(onDone func()) {
	e.mu.Lock()
	if e.bootstrap.active || e.bootstrapped.Get() {
		e.mu.Unlock()
		return
	}
	e.bootstrap = bootstrapState{active: true, round: 1, onDone: onDone}
	e.mu.Unlock()

	e.broadcastHello()

	go e.runBootstrapTimer()
}

// runBootstrapTimer is the production driver: a real ROUND_DURATION ticker
// calling tick once per firing. Tests drive tick directly with synthetic
// timestamps instead of running this goroutine (spec.md section 9).
func (e *Engine) runBootstrapTimer() {
	ticker := time.NewTicker(e.cfg.RoundDuration)
	defer ticker.Stop()
	for now := range ticker.C {
		if e.tick(now) {
			return
		}
	}
}

// tick advances the bootstrap state machine by one round-timer firing: if
// rounds remain, it broadcasts the next HELLO and reports not-done; once the
// timer following the final round's broadcast fires, it completes the
// bootstrap and invokes the completion callback. Returns true once the
// bootstrap has completed (on this or any previous call).
func (e *Engine) tick(now time.Time) bool {
	e.mu.Lock()
	if !e.bootstrap.active {
		e.mu.Unlock()
		return true
	}

	if e.bootstrap.round < e.cfg.Rounds {
		e.bootstrap.round++
		e.mu.Unlock()
		e.broadcastHello()
		return false
	}

	onDone := e.bootstrap.onDone
	e.bootstrap = bootstrapState{}
	e.mu.Unlock()

	e.bootstrapped.Set(true)
	if onDone != nil {
		onDone()
	}
	return true
}

// broadcastHello re-randomizes ownChallenge (invariant 4: exactly once per
// HELLO broadcast) and transmits a HELLO with it and our short address.
func (e *Engine) broadcastHello() {
	var challenge [ChallengeLen]byte
	if err := freshChallenge(challenge[:]); err != nil {
		e.log.Error.Printf("apkes: failed to generate hello challenge: %v", err)
		return
	}

	e.mu.Lock()
	e.ownChallenge = challenge
	e.mu.Unlock()

	payload := buildHello(challenge, e.self.Short)
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(CommandHello))
	frame = append(frame, payload...)

	if err := e.gateway.SendBroadcast(frame); err != nil {
		e.log.Debug.Printf("apkes: hello broadcast failed: %v", err)
		return
	}
	e.log.Debug.Printf("apkes: broadcast hello, challenge=%x", challenge)
}
