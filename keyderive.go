package apkes

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
)

// deriveZeroIV is the all-zero IV used to turn a CBC encrypter into a
// single-block ECB-equivalent encryption of exactly one 16-byte block. The
// metadata buffer is always exactly one AES block (peer_challenge || own
// challenge), so no padding is ever required.
var deriveZeroIV [aes.BlockSize]byte

// derivePairwiseKey implements spec.md section 4.1.4: encrypt the 16-byte
// metadata scratch (peer_challenge || own_challenge) under the shared
// secret with AES-128. The ciphertext is the pairwise key. This binds the
// key to both challenges and to the long-term secret, and is symmetric:
// both sides, knowing the secret and both challenges, reach the same key.
func derivePairwiseKey(secret, metadata [PairwiseKeyLen]byte) ([PairwiseKeyLen]byte, error) {
	var out [PairwiseKeyLen]byte
	block, err := aes.NewCipher(secret[:])
	if err != nil {
		return out, err
	}
	enc := cipher.NewCBCEncrypter(block, deriveZeroIV[:])
	enc.CryptBlocks(out[:], metadata[:])
	return out, nil
}

// freshChallenge fills buf with CSPRNG bytes, used both for our own
// per-round HELLO challenge and for the per-peer challenge stored while a
// handshake is tentative.
func freshChallenge(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}
