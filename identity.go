package apkes

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// Identity is a peer's link-layer identity: an extended (long) address and a
// short address (spec.md section 3). The neighbor table keys entries by the
// extended address alone; see key.
type Identity struct {
	Extended [ExtendedAddrLen]byte
	Short    uint16
}

// key returns the canonical map key for an identity: the extended address
// alone. The short address is a convenience field for outbound frames, not
// part of identity — two Identity values naming the same extended address
// are the same peer regardless of what each currently believes its short
// address is.
func (id Identity) key() [ExtendedAddrLen]byte {
	return id.Extended
}

func (id Identity) IsZero() bool {
	if id.Short != 0 {
		return false
	}
	for _, b := range id.Extended {
		if b != 0 {
			return false
		}
	}
	return true
}

func (id Identity) ToHex() string {
	return hex.EncodeToString(id.Extended[:])
}

func (id *Identity) FromHex(src string) error {
	slice, err := hex.DecodeString(src)
	if err != nil {
		return err
	}
	if len(slice) != ExtendedAddrLen {
		return errors.New("apkes: extended address hex has wrong length")
	}
	copy(id.Extended[:], slice)
	return nil
}

func putShortAddr(dst []byte, addr uint16) {
	binary.LittleEndian.PutUint16(dst, addr)
}

func getShortAddr(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src)
}
