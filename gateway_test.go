package apkes

import "testing"

func TestHelloRoundTrip(t *testing.T) {
	var challenge [ChallengeLen]byte
	for i := range challenge {
		challenge[i] = byte(i + 1)
	}

	payload := buildHello(challenge, 0xBEEF)
	gotChallenge, gotShort, ok := parseHello(payload)
	if !ok {
		t.Fatalf("parseHello failed")
	}
	if gotChallenge != challenge || gotShort != 0xBEEF {
		t.Fatalf("parseHello = (%x, %x), want (%x, BEEF)", gotChallenge, gotShort, challenge)
	}
}

func TestParseHelloRejectsWrongLength(t *testing.T) {
	if _, _, ok := parseHello([]byte{1, 2, 3}); ok {
		t.Fatalf("parseHello accepted malformed payload")
	}
}

func TestHelloAckRoundTripWithoutEBEAP(t *testing.T) {
	var peerCh, ownCh [ChallengeLen]byte
	peerCh[0], ownCh[0] = 0xAA, 0xBB
	trailer := make([]byte, ShortAddrLen)
	putShortAddr(trailer, 0x1234)

	payload := buildHelloAck(peerCh, ownCh, 3, trailer)
	got, ok := parseHelloAck(payload, false)
	if !ok {
		t.Fatalf("parseHelloAck failed")
	}
	if got.peerChallenge != peerCh || got.ownChallenge != ownCh || got.localIndex != 3 {
		t.Fatalf("parseHelloAck mismatch: %+v", got)
	}
	if !got.hasShortAddr || got.shortAddr != 0x1234 {
		t.Fatalf("parseHelloAck short addr = %x, hasShortAddr=%v", got.shortAddr, got.hasShortAddr)
	}
	if got.hasBroadcast {
		t.Fatalf("parseHelloAck reported hasBroadcast without EBEAP")
	}
}

func TestHelloAckRoundTripWithEBEAP(t *testing.T) {
	var peerCh, ownCh [ChallengeLen]byte
	var broadcastKey [NeighborBroadcastKeyLen]byte
	broadcastKey[0] = 0xEE

	payload := buildHelloAck(peerCh, ownCh, 1, broadcastKey[:])
	got, ok := parseHelloAck(payload, true)
	if !ok {
		t.Fatalf("parseHelloAck failed")
	}
	if !got.hasBroadcast || got.broadcastKey != broadcastKey {
		t.Fatalf("parseHelloAck broadcast key = %x, hasBroadcast=%v", got.broadcastKey, got.hasBroadcast)
	}
	if got.hasShortAddr {
		t.Fatalf("parseHelloAck reported hasShortAddr with EBEAP")
	}
}

func TestParseHelloAckWrongTrailerLength(t *testing.T) {
	var peerCh, ownCh [ChallengeLen]byte
	payload := buildHelloAck(peerCh, ownCh, 1, []byte{1, 2, 3})
	if _, ok := parseHelloAck(payload, false); ok {
		t.Fatalf("parseHelloAck accepted a malformed trailer")
	}
	if _, ok := parseHelloAck(payload, true); ok {
		t.Fatalf("parseHelloAck accepted a malformed EBEAP trailer")
	}
}

func TestAckRoundTripWithoutBroadcastKey(t *testing.T) {
	payload := buildAck(5, nil)
	got, ok := parseAck(payload, false)
	if !ok || got.localIndex != 5 || got.hasBroadcast {
		t.Fatalf("parseAck = %+v, ok=%v", got, ok)
	}
}

func TestAckRoundTripWithBroadcastKey(t *testing.T) {
	var key [NeighborBroadcastKeyLen]byte
	key[1] = 0x77
	payload := buildAck(9, &key)
	got, ok := parseAck(payload, true)
	if !ok || got.localIndex != 9 || !got.hasBroadcast || got.broadcastKey != key {
		t.Fatalf("parseAck = %+v, ok=%v", got, ok)
	}
}
