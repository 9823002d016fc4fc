package apkes

import (
	"testing"
	"time"
)

// noopGateway discards every outbound frame; tests that only need to drive
// inbound processing (handshake_test.go) don't need a working wire.
type noopGateway struct {
	unicasts   []Identity
	broadcasts int
}

func (g *noopGateway) SendBroadcast([]byte) error {
	g.broadcasts++
	return nil
}

func (g *noopGateway) SendUnicast(dst Identity, _ SecurityLevel, _ uint8, _ *[PairwiseKeyLen]byte, _ []byte) error {
	g.unicasts = append(g.unicasts, dst)
	return nil
}

func (g *noopGateway) VerifyUnicast([]byte, *[PairwiseKeyLen]byte) ([]byte, bool) {
	return nil, false
}

func newHandshakeTestEngine(t *testing.T, cfg Config) (*Engine, *noopGateway) {
	t.Helper()
	gw := &noopGateway{}
	self := Identity{Short: 1}
	self.Extended[0] = 0x01
	engine, err := NewEngine(cfg, LogLevelError, self, NewPlainProvider([PairwiseKeyLen]byte{}), gw)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, gw
}

// TestHelloFloodProtection covers scenario 2: with MAX_TENTATIVE_NEIGHBORS =
// 2, HELLOs from 5 distinct peers back-to-back admit only the first 2.
func TestHelloFloodProtection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTentativeNeighbors = 2
	engine, _ := newHandshakeTestEngine(t, cfg)

	admitted := 0
	for i := byte(1); i <= 5; i++ {
		sender := Identity{}
		sender.Extended[0] = i
		payload := buildHello([ChallengeLen]byte{i}, uint16(i))
		engine.OnCommandFrame(CommandHello, sender, payload)

		peer := Identity{Short: uint16(i), Extended: sender.Extended}
		if _, ok := engine.table.Lookup(peer); ok {
			admitted++
		}
	}

	if admitted != 2 {
		t.Fatalf("admitted %d tentative neighbors, want 2 (MaxTentativeNeighbors)", admitted)
	}
	if engine.waitTimers.outstanding() != 2 {
		t.Fatalf("outstanding wait timers = %d, want 2", engine.waitTimers.outstanding())
	}
}

// TestHelloFromKnownPeerDropped covers the boundary behavior: a second HELLO
// from an already-known peer causes no state change and consumes no
// permanent wait-timer slot.
func TestHelloFromKnownPeerDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTentativeNeighbors = 2
	engine, _ := newHandshakeTestEngine(t, cfg)

	sender := Identity{Extended: [ExtendedAddrLen]byte{0xAA}}
	payload := buildHello([ChallengeLen]byte{1}, 1)
	engine.OnCommandFrame(CommandHello, sender, payload)
	engine.OnCommandFrame(CommandHello, sender, payload)

	if engine.waitTimers.outstanding() != 1 {
		t.Fatalf("outstanding wait timers after duplicate hello = %d, want 1", engine.waitTimers.outstanding())
	}
}

// TestHelloAckChallengeMismatchDropped covers scenario 4: a HELLOACK whose
// first 8 bytes don't match our most recent own challenge is dropped even
// though it would otherwise decrypt and parse cleanly.
func TestHelloAckChallengeMismatchDropped(t *testing.T) {
	cfg := DefaultConfig()

	// A gateway that authenticates anything, to isolate the challenge check
	// from the authentication step (gw.VerifyUnicast would otherwise always
	// report ok=false and mask which check actually dropped the frame).
	authGw := &alwaysAuthGateway{}
	engine, err := NewEngine(cfg, LogLevelError, Identity{Extended: [ExtendedAddrLen]byte{0x01}}, NewPlainProvider([PairwiseKeyLen]byte{}), authGw)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)
	engine.mu.Lock()
	engine.ownChallenge = [ChallengeLen]byte{0xFF}
	engine.mu.Unlock()

	sender := Identity{Extended: [ExtendedAddrLen]byte{0xBB}}
	var mismatched, own [ChallengeLen]byte
	mismatched[0] = 0xEE // does not match ownChallenge (0xFF...)
	trailer := make([]byte, ShortAddrLen)
	putShortAddr(trailer, 2)
	body := buildHelloAck(mismatched, own, 0, trailer)

	engine.OnCommandFrame(CommandHelloAck, sender, body)

	if _, ok := engine.table.Lookup(sender); ok {
		t.Fatalf("helloack with mismatched challenge created a neighbor entry")
	}
}

// alwaysAuthGateway treats every unicast frame as authentic, returning the
// payload unchanged, to isolate the challenge check from authentication.
type alwaysAuthGateway struct {
	unicasts int
}

func (g *alwaysAuthGateway) SendBroadcast([]byte) error { return nil }
func (g *alwaysAuthGateway) SendUnicast(Identity, SecurityLevel, uint8, *[PairwiseKeyLen]byte, []byte) error {
	g.unicasts++
	return nil
}
func (g *alwaysAuthGateway) VerifyUnicast(securedPayload []byte, _ *[PairwiseKeyLen]byte) ([]byte, bool) {
	return securedPayload, true
}

// TestHelloAckReplayAgainstPermanentNeighborDropped covers scenario 5: a
// HELLOACK that was already accepted once against a PERMANENT neighbor (same
// own-challenge bytes, hence same anti-replay pseudo-counter) is rejected on
// a second delivery, re-keys nothing, and sends no ACK.
func TestHelloAckReplayAgainstPermanentNeighborDropped(t *testing.T) {
	cfg := DefaultConfig()
	authGw := &alwaysAuthGateway{}
	self := Identity{Extended: [ExtendedAddrLen]byte{0x01}}
	engine, err := NewEngine(cfg, LogLevelError, self, NewPlainProvider([PairwiseKeyLen]byte{}), authGw)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)

	var peerChallenge, ownChallenge [ChallengeLen]byte
	peerChallenge[0] = 0xAB
	ownChallenge[0] = 0xCD
	engine.mu.Lock()
	engine.ownChallenge = peerChallenge
	engine.mu.Unlock()

	sender := Identity{Extended: [ExtendedAddrLen]byte{0xBB}, Short: 2}
	h, err := engine.table.Alloc(sender)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	var metadata [MetadataLen]byte
	copy(metadata[0:ChallengeLen], peerChallenge[:])
	copy(metadata[ChallengeLen:MetadataLen], ownChallenge[:])
	key, err := derivePairwiseKey([PairwiseKeyLen]byte{}, metadata)
	if err != nil {
		t.Fatalf("derivePairwiseKey: %v", err)
	}
	engine.table.Mutate(h, func(n *NeighborEntry) {
		n.ids = sender
		n.metadata = metadata
		n.pairwiseKey = key
		n.status = StatusPermanent
		n.antiReplay.Init()
	})

	trailer := make([]byte, ShortAddrLen)
	putShortAddr(trailer, sender.Short)
	body := buildHelloAck(peerChallenge, ownChallenge, 0, trailer)

	// First delivery: accepted, consuming the anti-replay counter and
	// sending an ACK.
	engine.OnCommandFrame(CommandHelloAck, sender, body)
	if authGw.unicasts != 1 {
		t.Fatalf("unicasts after first helloack = %d, want 1", authGw.unicasts)
	}
	entryAfterFirst, ok := engine.table.Get(h)
	if !ok || entryAfterFirst.status != StatusPermanent {
		t.Fatalf("entry after first helloack: ok=%v status=%v", ok, entryAfterFirst.status)
	}

	// Replaying the identical body must be dropped: no second ACK, and the
	// stored key/metadata are untouched.
	engine.OnCommandFrame(CommandHelloAck, sender, body)
	if authGw.unicasts != 1 {
		t.Fatalf("unicasts after replayed helloack = %d, want still 1 (no ack sent)", authGw.unicasts)
	}
	entryAfterReplay, ok := engine.table.Get(h)
	if !ok {
		t.Fatalf("entry vanished after replayed helloack")
	}
	if entryAfterReplay.pairwiseKey != key {
		t.Fatalf("pairwise key changed after replayed helloack")
	}
}

// TestAckWrongKeyDropped covers the boundary behavior: an ACK that fails to
// authenticate leaves the neighbor in TENTATIVE_AWAITING_ACK.
func TestAckWrongKeyDropped(t *testing.T) {
	cfg := DefaultConfig()
	engine, _ := newHandshakeTestEngine(t, cfg)

	sender := Identity{Extended: [ExtendedAddrLen]byte{0xCC}, Short: 4}
	h, err := engine.table.Alloc(sender)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	engine.table.Mutate(h, func(n *NeighborEntry) { n.status = StatusTentativeAwaitingAck })

	engine.OnCommandFrame(CommandAck, sender, []byte{0})

	entry, ok := engine.table.Get(h)
	if !ok || entry.status != StatusTentativeAwaitingAck {
		t.Fatalf("entry after failed ack = %+v, ok=%v; want still TENTATIVE_AWAITING_ACK", entry, ok)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	cfg := DefaultConfig()
	engine, gw := newHandshakeTestEngine(t, cfg)

	engine.OnCommandFrame(CommandID(0xFE), Identity{}, []byte{1, 2, 3})

	if gw.broadcasts != 0 || len(gw.unicasts) != 0 {
		t.Fatalf("unknown command triggered an outbound frame")
	}
}

func TestRandomDurationBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		d, err := randomDuration(100 * time.Millisecond)
		if err != nil {
			t.Fatalf("randomDuration: %v", err)
		}
		if d < 0 || d > 100*time.Millisecond {
			t.Fatalf("randomDuration out of bounds: %v", d)
		}
	}
	if d, _ := randomDuration(0); d != 0 {
		t.Fatalf("randomDuration(0) = %v, want 0", d)
	}
}
