package apkes

import (
	"fmt"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/kahnreaz/apkes/ratelimiter"
)

// reclaimInterval is how often the engine sweeps the neighbor table for
// expired TENTATIVE/TENTATIVE_AWAITING_ACK entries, mirroring the cadence
// of ratelimiter's own collectGarbage loop.
const reclaimInterval = time.Second

// Engine is the Handshake Engine of spec.md section 4.1: the single
// component that drives bootstrap, processes HELLO/HELLOACK/ACK frames, and
// exposes the four-operation outbound API spec.md section 6 names.
//
// Engine.mu replaces the source's "single cooperative task" serialization
// (spec.md section 5) with a real mutex, grounded on the teacher's
// per-struct locking discipline (Peer.mutex, Handshake.mutex in
// WireGuard-wireguard-go/src). It guards ownChallenge, the wait-timer pool,
// and bootstrap progress — exactly the state spec.md section 5 calls
// process-wide. NeighborTable keeps its own separate mutex for entries, the
// same split the teacher draws between Device-level and Peer-level locks.
type Engine struct {
	log      *Logger
	cfg      Config
	self     Identity
	provider SecretProvider
	gateway  Gateway
	table    *NeighborTable
	limiter  *ratelimiter.Ratelimiter

	mu           deadlock.Mutex
	ownChallenge [ChallengeLen]byte
	waitTimers   *waitTimerPool
	bootstrap    bootstrapState
	broadcastKey [NeighborBroadcastKeyLen]byte
	hasBroadcast bool

	bootstrapped AtomicBool

	stop chan struct{}
}

// SetBroadcastKey provisions the network-wide broadcast key piggybacked on
// HELLOACK/ACK when EBEAPWithEncryption is enabled (spec.md section 6). Not
// part of the outbound API table: it is network-commissioning setup, done
// once before Bootstrap.
func (e *Engine) SetBroadcastKey(key [NeighborBroadcastKeyLen]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcastKey = key
	e.hasBroadcast = true
}

// NewEngine wires the Handshake Engine's collaborators: a neighbor table
// sized from cfg, a wait-timer pool sized by MaxTentativeNeighbors, and a
// ratelimiter gating inbound HELLOs, mirroring how the teacher's NewDevice
// wires IndexTable/Ratelimiter/queues at construction time.
func NewEngine(cfg Config, logLevel int, self Identity, provider SecretProvider, gateway Gateway) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("apkes: secret provider is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("apkes: gateway is required")
	}
	cfg = cfg.withDefaults()
	if err := provider.Init(); err != nil {
		return nil, fmt.Errorf("apkes: secret provider init: %w", err)
	}

	e := &Engine{
		log:        NewLogger(logLevel),
		cfg:        cfg,
		self:       self,
		provider:   provider,
		gateway:    gateway,
		table:      NewNeighborTable(neighborTableCapacity(cfg)),
		limiter:    ratelimiter.New(),
		waitTimers: newWaitTimerPool(cfg.MaxTentativeNeighbors),
		stop:       make(chan struct{}),
	}
	go e.reclaimExpiredLoop()
	return e, nil
}

// reclaimExpiredLoop periodically frees TENTATIVE/TENTATIVE_AWAITING_ACK
// entries whose expiration_time has passed (spec.md section 3, "must be
// reclaimed"), the same periodic-sweep shape as ratelimiter's
// collectGarbage. Without this, a neighbor stuck mid-handshake — its secret
// withdrawn before the wait timer fires, or an ACK that never authenticates
// — would occupy a table slot for the engine's entire lifetime.
func (e *Engine) reclaimExpiredLoop() {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.table.ReclaimExpired(now)
		}
	}
}

// neighborTableCapacity sizes the table generously beyond the concurrent
// tentative-neighbor bound: PERMANENT neighbors accumulate across rounds and
// are not subject to the wait-timer pool's cap.
func neighborTableCapacity(cfg Config) int {
	capacity := cfg.MaxTentativeNeighbors * cfg.Rounds
	if capacity < cfg.MaxTentativeNeighbors {
		capacity = cfg.MaxTentativeNeighbors
	}
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// Close releases background resources (the ratelimiter's garbage collector
// goroutine, the neighbor-table reclaim loop). Not part of spec.md's
// outbound API; needed for clean test and process shutdown.
func (e *Engine) Close() {
	e.limiter.Close()
	close(e.stop)
}

// IsBootstrapped reports whether the bootstrap-complete callback has fired.
func (e *Engine) IsBootstrapped() bool {
	return e.bootstrapped.Get()
}

// GetPairwiseKeyWith returns the key to secure an outbound frame to h with,
// per spec.md section 6: for a TENTATIVE_AWAITING_ACK peer, recompute the
// HELLOACK-time key from the provider rather than return the cached value
// (spec.md section 9's resolution of the open question; the entry still
// holds the key, which onAck verifies the ACK under); for PERMANENT, return
// the stored key.
func (e *Engine) GetPairwiseKeyWith(h NeighborHandle) ([PairwiseKeyLen]byte, bool) {
	entry, ok := e.table.Get(h)
	if !ok {
		return [PairwiseKeyLen]byte{}, false
	}
	switch entry.status {
	case StatusPermanent:
		return entry.pairwiseKey, true
	case StatusTentativeAwaitingAck:
		secret, ok := e.provider.GetSecretWithHelloSender(entry.ids)
		if !ok {
			return [PairwiseKeyLen]byte{}, false
		}
		key, err := derivePairwiseKey(secret, entry.metadata)
		if err != nil {
			return [PairwiseKeyLen]byte{}, false
		}
		return key, true
	default:
		return [PairwiseKeyLen]byte{}, false
	}
}
