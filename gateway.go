package apkes

// Gateway is the external "frame gateway" collaborator of spec.md section 1:
// building and dispatching command frames, and decrypting/verifying unicast
// frames under a given key, are explicitly out of scope for the handshake
// engine. This interface captures the shape the engine needs from it,
// grounded on the teacher's Bind/Endpoint split (device/conn.go) — a small
// capability surface injected at construction time rather than compiled in.
type Gateway interface {
	// SendBroadcast transmits payload (a fully built HELLO command frame)
	// as an unauthenticated link-layer broadcast.
	SendBroadcast(payload []byte) error

	// SendUnicast transmits payload to dst, secured per level. When level
	// is SecurityLevelAuthEncrypt with keyIndex set and EBEAP broadcast
	// keying enabled, the gateway is responsible for setting the frame's
	// key-id-mode/key-source attributes per spec.md section 6 so the
	// receiver can route to the right long-term key; key carries the key
	// to secure the frame under (the long-term secret for HELLOACK, the
	// derived pairwise key for ACK).
	SendUnicast(dst Identity, level SecurityLevel, keyIndex uint8, key *[PairwiseKeyLen]byte, payload []byte) error

	// VerifyUnicast decrypts and authenticates a received secured unicast
	// frame body under key, returning the recovered payload. This is the
	// "decrypt/verify unicast frames with a given key" primitive spec.md
	// section 1 names as external: the engine supplies a candidate key
	// (from the secret provider, or a neighbor's stored pairwise key) and
	// asks the gateway whether the frame authenticates under it.
	VerifyUnicast(securedPayload []byte, key *[PairwiseKeyLen]byte) (payload []byte, ok bool)
}

// buildHello lays out the HELLO payload: challenge[8] || short_addr[2],
// spec.md section 6.
func buildHello(challenge [ChallengeLen]byte, shortAddr uint16) []byte {
	buf := make([]byte, ChallengeLen+ShortAddrLen)
	copy(buf, challenge[:])
	putShortAddr(buf[ChallengeLen:], shortAddr)
	return buf
}

func parseHello(payload []byte) (challenge [ChallengeLen]byte, shortAddr uint16, ok bool) {
	if len(payload) != ChallengeLen+ShortAddrLen {
		return challenge, 0, false
	}
	copy(challenge[:], payload[:ChallengeLen])
	shortAddr = getShortAddr(payload[ChallengeLen:])
	return challenge, shortAddr, true
}

// buildHelloAck lays out the HELLOACK payload:
// peer_challenge[8] || own_challenge[8] || local_index[1] || trailer, where
// trailer is the broadcast key (EBEAP enabled) or the sender's short address
// (otherwise) — spec.md section 4.1.3 / section 6.
func buildHelloAck(peerChallenge, ownChallenge [ChallengeLen]byte, localIndex uint8, trailer []byte) []byte {
	buf := make([]byte, 0, ChallengeLen*2+1+len(trailer))
	buf = append(buf, peerChallenge[:]...)
	buf = append(buf, ownChallenge[:]...)
	buf = append(buf, localIndex)
	buf = append(buf, trailer...)
	return buf
}

type parsedHelloAck struct {
	peerChallenge [ChallengeLen]byte
	ownChallenge  [ChallengeLen]byte
	localIndex    uint8
	broadcastKey  [NeighborBroadcastKeyLen]byte
	hasBroadcast  bool
	shortAddr     uint16
	hasShortAddr  bool
}

func parseHelloAck(payload []byte, ebeap bool) (parsedHelloAck, bool) {
	var out parsedHelloAck
	const fixed = ChallengeLen*2 + 1
	if len(payload) < fixed {
		return out, false
	}
	copy(out.peerChallenge[:], payload[:ChallengeLen])
	copy(out.ownChallenge[:], payload[ChallengeLen:2*ChallengeLen])
	out.localIndex = payload[2*ChallengeLen]
	trailer := payload[fixed:]

	if ebeap {
		if len(trailer) != NeighborBroadcastKeyLen {
			return out, false
		}
		copy(out.broadcastKey[:], trailer)
		out.hasBroadcast = true
	} else {
		if len(trailer) != ShortAddrLen {
			return out, false
		}
		out.shortAddr = getShortAddr(trailer)
		out.hasShortAddr = true
	}
	return out, true
}

// buildAck lays out the ACK payload: local_index[1] || broadcast_key?,
// spec.md section 4.1.6 / section 6.
func buildAck(localIndex uint8, broadcastKey *[NeighborBroadcastKeyLen]byte) []byte {
	if broadcastKey == nil {
		return []byte{localIndex}
	}
	buf := make([]byte, 0, 1+NeighborBroadcastKeyLen)
	buf = append(buf, localIndex)
	buf = append(buf, broadcastKey[:]...)
	return buf
}

type parsedAck struct {
	localIndex   uint8
	broadcastKey [NeighborBroadcastKeyLen]byte
	hasBroadcast bool
}

func parseAck(payload []byte, ebeap bool) (parsedAck, bool) {
	var out parsedAck
	if len(payload) < 1 {
		return out, false
	}
	out.localIndex = payload[0]
	rest := payload[1:]
	if ebeap {
		if len(rest) != NeighborBroadcastKeyLen {
			return out, false
		}
		copy(out.broadcastKey[:], rest)
		out.hasBroadcast = true
	} else if len(rest) != 0 {
		return out, false
	}
	return out, true
}
