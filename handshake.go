package apkes

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	"time"
)

// OnCommandFrame is the single dispatch entry point of spec.md section
// 4.1.8: the frame gateway hands every received command frame here,
// identified by its sender's link-layer identity (at minimum the extended
// address; the short address, where relevant, travels inside the payload
// itself and is reconciled by each handler). Unknown command identifiers are
// logged and ignored.
func (e *Engine) OnCommandFrame(cmd CommandID, sender Identity, payload []byte) {
	switch cmd {
	case CommandHello:
		e.onHello(sender, payload)
	case CommandHelloAck:
		e.onHelloAck(sender, payload)
	case CommandAck:
		e.onAck(sender, payload)
	default:
		e.log.Debug.Printf("apkes: unknown command id %d from %s, ignored", cmd, sender.ToHex())
	}
}

// onHello implements spec.md section 4.1.2. A wait-timer slot is reserved
// before either the duplicate check or the table allocation, and freed
// again on any rejection path — this is the source's conflation of
// "already known" with "out of memory" into a single observable drop
// (spec.md section 9), preserved here deliberately rather than reordered
// for efficiency.
func (e *Engine) onHello(linkSender Identity, payload []byte) {
	if !e.limiter.Allow(linkSender.Extended) {
		e.log.Debug.Printf("apkes: hello from %s rate-limited", linkSender.ToHex())
		return
	}

	challenge, shortAddr, ok := parseHello(payload)
	if !ok {
		e.log.Debug.Printf("apkes: malformed hello from %s", linkSender.ToHex())
		return
	}
	sender := Identity{Extended: linkSender.Extended, Short: shortAddr}

	e.mu.Lock()
	slot := e.waitTimers.reserve()
	e.mu.Unlock()
	if slot < 0 {
		e.log.Debug.Printf("apkes: wait-timer pool full, dropping hello from %s", sender.ToHex())
		return
	}

	if _, known := e.table.Lookup(sender); known {
		e.mu.Lock()
		e.waitTimers.free(slot)
		e.mu.Unlock()
		e.log.Debug.Printf("apkes: hello from already-known %s, dropping", sender.ToHex())
		return
	}

	h, err := e.table.Alloc(sender)
	if err != nil {
		e.mu.Lock()
		e.waitTimers.free(slot)
		e.mu.Unlock()
		e.log.Debug.Printf("apkes: cannot admit hello from %s: %v", sender.ToHex(), err)
		return
	}

	var ownChallenge [ChallengeLen]byte
	if err := freshChallenge(ownChallenge[:]); err != nil {
		e.table.Free(h)
		e.mu.Lock()
		e.waitTimers.free(slot)
		e.mu.Unlock()
		e.log.Error.Printf("apkes: failed to generate per-peer challenge: %v", err)
		return
	}

	var metadata [MetadataLen]byte
	copy(metadata[0:ChallengeLen], challenge[:])
	copy(metadata[ChallengeLen:MetadataLen], ownChallenge[:])

	now := time.Now()
	e.table.Mutate(h, func(n *NeighborEntry) {
		n.metadata = metadata
		n.expirationTime = now.Add(e.cfg.MaxWaitingPeriod + e.cfg.AckDelay)
	})

	delay, err := randomDuration(e.cfg.MaxWaitingPeriod)
	if err != nil {
		delay = 0
	}
	e.mu.Lock()
	e.waitTimers.arm(slot, h, delay, func(i int) { e.onWaitTimerFired(i) })
	e.mu.Unlock()

	e.log.Debug.Printf("apkes: admitted hello from %s as tentative, helloack in %v", sender.ToHex(), delay)
}

// onWaitTimerFired implements spec.md section 4.1.3. It runs on its own
// goroutine (time.AfterFunc) and always frees the wait-timer slot, whatever
// the outcome.
func (e *Engine) onWaitTimerFired(slot int) {
	e.mu.Lock()
	h, ok := e.waitTimers.neighborOf(slot)
	e.waitTimers.free(slot)
	e.mu.Unlock()
	if !ok {
		return
	}

	entry, ok := e.table.Get(h)
	if !ok || entry.status != StatusTentative {
		// Promoted, replaced, or reclaimed already — the cancellation is
		// implicit, per spec.md section 5 and section 9.
		return
	}

	secret, ok := e.provider.GetSecretWithHelloSender(entry.ids)
	if !ok {
		e.log.Debug.Printf("apkes: no secret for hello sender %s, not sending helloack", entry.ids.ToHex())
		return
	}
	key, err := derivePairwiseKey(secret, entry.metadata)
	if err != nil {
		e.log.Error.Printf("apkes: key derivation failed for %s: %v", entry.ids.ToHex(), err)
		return
	}

	promoted := e.table.Mutate(h, func(n *NeighborEntry) {
		if n.status != StatusTentative {
			return
		}
		n.status = StatusTentativeAwaitingAck
		n.pairwiseKey = key
		n.localIndex = uint8(h)
	})
	if !promoted {
		return
	}
	entry, _ = e.table.Get(h)

	var peerChallenge, ownChallenge [ChallengeLen]byte
	copy(peerChallenge[:], entry.metadata[0:ChallengeLen])
	copy(ownChallenge[:], entry.metadata[ChallengeLen:MetadataLen])

	var trailer []byte
	if e.cfg.EBEAPWithEncryption {
		trailer = e.neighborBroadcastKey()
	} else {
		trailer = make([]byte, ShortAddrLen)
		putShortAddr(trailer, e.self.Short)
	}

	body := buildHelloAck(peerChallenge, ownChallenge, entry.localIndex, trailer)
	frame := make([]byte, 0, 1+len(body))
	frame = append(frame, byte(CommandHelloAck))
	frame = append(frame, body...)

	// HELLOACK is secured under the long-term secret, not the pairwise key
	// just derived: the peer cannot derive that key until it has decrypted
	// and accepted this very frame.
	if err := e.gateway.SendUnicast(entry.ids, SecurityLevelAuthEncrypt, HelloAckIdentifier, &secret, frame); err != nil {
		e.log.Debug.Printf("apkes: helloack to %s failed: %v", entry.ids.ToHex(), err)
	}
}

// neighborBroadcastKey returns the broadcast key to piggyback on
// HELLOACK/ACK when EBEAP is enabled, as provisioned by SetBroadcastKey. If
// EBEAP is on but SetBroadcastKey was never called, this logs an error and
// sends an all-zero key rather than failing the handshake outright.
func (e *Engine) neighborBroadcastKey() []byte {
	e.mu.Lock()
	key := e.broadcastKey
	provisioned := e.hasBroadcast
	e.mu.Unlock()
	if !provisioned {
		e.log.Error.Printf("apkes: EBEAPWithEncryption is set but SetBroadcastKey was never called; sending a zero broadcast key")
	}
	out := make([]byte, NeighborBroadcastKeyLen)
	copy(out, key[:])
	return out
}

// onHelloAck implements spec.md section 4.1.5.
func (e *Engine) onHelloAck(linkSender Identity, payload []byte) {
	secret, ok := e.provider.GetSecretWithHelloAckSender(linkSender)
	if !ok {
		e.log.Debug.Printf("apkes: no secret for helloack sender %s, dropping", linkSender.ToHex())
		return
	}

	plain, ok := e.gateway.VerifyUnicast(payload, &secret)
	if !ok {
		e.log.Debug.Printf("apkes: helloack from %s failed to authenticate", linkSender.ToHex())
		return
	}

	parsed, ok := parseHelloAck(plain, e.cfg.EBEAPWithEncryption)
	if !ok {
		e.log.Debug.Printf("apkes: malformed helloack from %s", linkSender.ToHex())
		return
	}

	e.mu.Lock()
	expected := e.ownChallenge
	e.mu.Unlock()
	if parsed.peerChallenge != expected {
		e.log.Debug.Printf("apkes: helloack from %s has stale/foreign challenge, dropping", linkSender.ToHex())
		return
	}

	sender := linkSender
	if parsed.hasShortAddr {
		sender.Short = parsed.shortAddr
	}

	h, known := e.table.Lookup(sender)
	wasPermanent := false
	if known {
		entry, _ := e.table.Get(h)
		switch entry.status {
		case StatusPermanent:
			accepted := true
			e.table.Mutate(h, func(n *NeighborEntry) {
				if !n.antiReplay.ValidateCounter(replayCounterOf(parsed), ^uint64(0)) {
					accepted = false
				}
			})
			if !accepted {
				e.log.Debug.Printf("apkes: replayed helloack from permanent neighbor %s, dropping", sender.ToHex())
				return
			}
			wasPermanent = true
		case StatusTentative:
			// No explicit cancellation: the wait-timer callback will see
			// status != TENTATIVE once we overwrite it below and will no-op
			// (spec.md section 9).
		default:
			e.log.Debug.Printf("apkes: helloack from %s in ineligible state %s, dropping", sender.ToHex(), entry.status)
			return
		}
	} else {
		var err error
		h, err = e.table.Alloc(sender)
		if err != nil {
			e.log.Debug.Printf("apkes: cannot admit helloack from %s: %v", sender.ToHex(), err)
			return
		}
	}

	var metadata [MetadataLen]byte
	copy(metadata[0:ChallengeLen], parsed.peerChallenge[:])
	copy(metadata[ChallengeLen:MetadataLen], parsed.ownChallenge[:])

	key, err := derivePairwiseKey(secret, metadata)
	if err != nil {
		e.log.Error.Printf("apkes: key derivation failed for %s: %v", sender.ToHex(), err)
		return
	}

	e.table.Mutate(h, func(n *NeighborEntry) {
		n.ids = sender
		n.metadata = metadata
		n.pairwiseKey = key
		n.localIndex = parsed.localIndex
		n.status = StatusPermanent
		if !wasPermanent {
			// A neighbor promoted to PERMANENT for the first time starts
			// its anti-replay window fresh. One already PERMANENT just had
			// this HELLOACK's counter validated above; re-initializing here
			// would erase that check and accept the very next replay.
			n.antiReplay.Init()
		}
		if parsed.hasBroadcast {
			n.broadcastKey = parsed.broadcastKey
			n.hasBroadcast = true
		}
	})

	var broadcastKeyPtr *[NeighborBroadcastKeyLen]byte
	if e.cfg.EBEAPWithEncryption {
		var bk [NeighborBroadcastKeyLen]byte
		copy(bk[:], e.neighborBroadcastKey())
		broadcastKeyPtr = &bk
	}
	ackBody := buildAck(uint8(h), broadcastKeyPtr)
	frame := make([]byte, 0, 1+len(ackBody))
	frame = append(frame, byte(CommandAck))
	frame = append(frame, ackBody...)

	if err := e.gateway.SendUnicast(sender, SecurityLevelAuthEncrypt, AckIdentifier, &key, frame); err != nil {
		e.log.Debug.Printf("apkes: ack to %s failed: %v", sender.ToHex(), err)
	}
}

// onAck implements spec.md section 4.1.7.
func (e *Engine) onAck(linkSender Identity, payload []byte) {
	h, known := e.table.Lookup(linkSender)
	if !known {
		e.log.Debug.Printf("apkes: ack from unknown %s, dropping", linkSender.ToHex())
		return
	}
	entry, ok := e.table.Get(h)
	if !ok || entry.status != StatusTentativeAwaitingAck {
		e.log.Debug.Printf("apkes: ack from %s not awaiting ack, dropping", linkSender.ToHex())
		return
	}

	plain, ok := e.gateway.VerifyUnicast(payload, &entry.pairwiseKey)
	if !ok {
		e.log.Debug.Printf("apkes: ack from %s failed to authenticate", linkSender.ToHex())
		return
	}

	parsed, ok := parseAck(plain, e.cfg.EBEAPWithEncryption)
	if !ok {
		e.log.Debug.Printf("apkes: malformed ack from %s", linkSender.ToHex())
		return
	}

	e.table.Mutate(h, func(n *NeighborEntry) {
		n.localIndex = parsed.localIndex
		n.status = StatusPermanent
		n.antiReplay.Init()
		if parsed.hasBroadcast {
			n.broadcastKey = parsed.broadcastKey
			n.hasBroadcast = true
		}
	})
	e.log.Info.Printf("apkes: neighbor %s now permanent", entry.ids.ToHex())
}

// replayCounterOf derives a pseudo-counter for the anti-replay window from
// the responder's own challenge (payload bytes 8..16) in a helloack. A
// freshly issued HELLOACK carries a freshly drawn responder challenge;
// replaying an old HELLOACK replays its old bytes, which the window has
// already seen. The challenges are random, not increasing.
func replayCounterOf(p parsedHelloAck) uint64 {
	return binary.LittleEndian.Uint64(p.ownChallenge[:])
}

// randomDuration returns a uniformly random duration in [0, max], using the
// CSPRNG rather than math/rand's default source so the spread of HELLOACK
// replies is not predictable to an observer (spec.md section 4.1.2).
func randomDuration(max time.Duration) (time.Duration, error) {
	if max <= 0 {
		return 0, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)+1))
	if err != nil {
		return 0, err
	}
	return time.Duration(n.Int64()), nil
}
