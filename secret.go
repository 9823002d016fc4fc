package apkes

// SecretProvider is the pluggable "scheme" of spec.md section 4.2: two pure
// lookup operations that convert a peer identity into the long-term shared
// secret underlying key derivation, split by role because some provisioning
// schemes treat initiator/responder asymmetrically. Returning ok=false
// cleanly aborts the handshake with that peer.
//
// Modeled on the shape of the teacher's pluggable Bind interface
// (device/conn.go): a small capability object supplied to the engine at
// construction time rather than a compile-time build tag.
type SecretProvider interface {
	// Init runs once, before the engine's first bootstrap round.
	Init() error

	// GetSecretWithHelloSender returns the secret to use when we, having
	// received a HELLO from ids, are about to issue a HELLOACK.
	GetSecretWithHelloSender(ids Identity) (secret [PairwiseKeyLen]byte, ok bool)

	// GetSecretWithHelloAckSender returns the secret to use when we,
	// having received a HELLOACK from ids, are about to verify it and
	// issue an ACK.
	GetSecretWithHelloAckSender(ids Identity) (secret [PairwiseKeyLen]byte, ok bool)
}

// PlainProvider is the canonical "one network-wide key" scheme: every peer
// shares the same long-term secret.
type PlainProvider struct {
	secret [PairwiseKeyLen]byte
}

func NewPlainProvider(secret [PairwiseKeyLen]byte) *PlainProvider {
	return &PlainProvider{secret: secret}
}

func (p *PlainProvider) Init() error { return nil }

func (p *PlainProvider) GetSecretWithHelloSender(Identity) ([PairwiseKeyLen]byte, bool) {
	return p.secret, true
}

func (p *PlainProvider) GetSecretWithHelloAckSender(Identity) ([PairwiseKeyLen]byte, bool) {
	return p.secret, true
}

// PairingProvider is the "per-pair pre-shared secret" scheme: secrets are
// provisioned per peer identity ahead of time (e.g. at manufacture or via a
// commissioning step); an unlisted peer yields no secret and the handshake
// aborts cleanly for it.
type PairingProvider struct {
	secrets map[[ExtendedAddrLen]byte][PairwiseKeyLen]byte
}

func NewPairingProvider() *PairingProvider {
	return &PairingProvider{secrets: make(map[[ExtendedAddrLen]byte][PairwiseKeyLen]byte)}
}

func (p *PairingProvider) Init() error { return nil }

// AddPair provisions the shared secret for a specific peer identity. Not
// part of the SecretProvider interface: it is commissioning-time setup, done
// before Init/bootstrap, the same way the teacher's NewPeer precomputes a
// static-static DH result once at peer-add time rather than per handshake.
// Keyed on the extended address alone; see Identity.key.
func (p *PairingProvider) AddPair(ids Identity, secret [PairwiseKeyLen]byte) {
	p.secrets[ids.key()] = secret
}

func (p *PairingProvider) GetSecretWithHelloSender(ids Identity) ([PairwiseKeyLen]byte, bool) {
	s, ok := p.secrets[ids.key()]
	return s, ok
}

func (p *PairingProvider) GetSecretWithHelloAckSender(ids Identity) ([PairwiseKeyLen]byte, bool) {
	s, ok := p.secrets[ids.key()]
	return s, ok
}
