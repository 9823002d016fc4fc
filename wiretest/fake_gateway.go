// Package wiretest provides an in-process fake of the apkes.Gateway
// collaborator, letting tests and the cmd/apkesd demo run the handshake
// engine without a real 802.15.4 radio. Modeled on the teacher's
// channel-based DummyBind (device/bind_test.go): a shared Medium fans
// broadcasts and routes unicasts between registered nodes.
package wiretest

import (
	"crypto/aes"
	"crypto/cipher"
	"sync"

	"github.com/kahnreaz/apkes"
)

// Medium is a shared in-process "air", connecting any number of FakeGateway
// instances the way a real radio channel connects nodes in range of each
// other.
type Medium struct {
	mu    sync.RWMutex
	nodes map[apkes.Identity]*FakeGateway
}

func NewMedium() *Medium {
	return &Medium{nodes: make(map[apkes.Identity]*FakeGateway)}
}

// FakeGateway is one node's view of the Medium: it knows its own identity
// and the engine to deliver inbound frames to.
type FakeGateway struct {
	self   apkes.Identity
	medium *Medium

	mu      sync.Mutex
	onFrame func(cmd apkes.CommandID, sender apkes.Identity, payload []byte)
}

// NewGateway registers a node with self's identity on medium. onFrame is
// invoked (on the caller's own goroutine — the FakeGateway does not spawn
// one) whenever another node on the medium sends self a frame; engines are
// safe to call from arbitrary goroutines since they serialize internally.
func NewGateway(medium *Medium, self apkes.Identity, onFrame func(cmd apkes.CommandID, sender apkes.Identity, payload []byte)) *FakeGateway {
	gw := &FakeGateway{self: self, medium: medium, onFrame: onFrame}
	medium.mu.Lock()
	medium.nodes[self] = gw
	medium.mu.Unlock()
	return gw
}

func (g *FakeGateway) SendBroadcast(payload []byte) error {
	if len(payload) < 1 {
		return nil
	}
	cmd := apkes.CommandID(payload[0])
	body := payload[1:]

	g.medium.mu.RLock()
	defer g.medium.mu.RUnlock()
	for id, peer := range g.medium.nodes {
		if id == g.self {
			continue
		}
		peer.deliver(cmd, g.self, body)
	}
	return nil
}

func (g *FakeGateway) SendUnicast(dst apkes.Identity, level apkes.SecurityLevel, keyIndex uint8, key *[apkes.PairwiseKeyLen]byte, payload []byte) error {
	if len(payload) < 1 {
		return nil
	}
	cmd := apkes.CommandID(payload[0])
	body := payload[1:]

	secured := body
	if key != nil {
		var err error
		secured, err = seal(key, body)
		if err != nil {
			return err
		}
	}
	_ = level // the fake applies the same AEAD regardless of level; a real
	// gateway would vary key-id-mode/key-source attributes by level instead

	g.medium.mu.RLock()
	peer, ok := g.medium.nodes[dst]
	g.medium.mu.RUnlock()
	if !ok {
		return nil // no such neighbor on the medium; frame is simply lost
	}
	peer.deliver(cmd, g.self, secured)
	return nil
}

func (g *FakeGateway) VerifyUnicast(securedPayload []byte, key *[apkes.PairwiseKeyLen]byte) ([]byte, bool) {
	plain, err := open(key, securedPayload)
	if err != nil {
		return nil, false
	}
	return plain, true
}

func (g *FakeGateway) deliver(cmd apkes.CommandID, sender apkes.Identity, payload []byte) {
	g.mu.Lock()
	onFrame := g.onFrame
	g.mu.Unlock()
	if onFrame != nil {
		onFrame(cmd, sender, payload)
	}
}

// seal/open stand in for the real link-layer security suite spec.md treats
// as wholly external (section 1: "the block cipher and CSPRNG primitives"
// plus frame authentication are out of scope). A fixed nonce is acceptable
// here only because this is a test/demo double, never production transport
// security: every HELLOACK is sealed under the same long-term secret, so
// nonces do repeat under one key within a fake run.
var fixedNonce [12]byte

func seal(key *[apkes.PairwiseKeyLen]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, fixedNonce[:], plaintext, nil), nil
}

func open(key *[apkes.PairwiseKeyLen]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, fixedNonce[:], ciphertext, nil)
}
