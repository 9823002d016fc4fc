// Package flashstore implements the append-only Flash Keying-Material Store
// of spec.md section 4.3: a fixed-offset linear region with a bulk erase, a
// cursor-advancing append, and a random-access restore. Modeled on the
// teacher's thin collaborator-wrapper shape (device/tun.go wraps a TUNDevice
// the same way Store wraps a BlockDevice here) rather than on any storage
// package of its own, since the teacher has no non-volatile-memory layer.
package flashstore

import (
	"errors"
	"fmt"
)

// BlockDevice is the minimal non-volatile storage primitive the store needs:
// a byte-addressable region with a bulk erase unit. A real embedded target
// backs this with on-chip flash; tests back it with an in-memory slice.
type BlockDevice interface {
	EraseUnitSize() int
	EraseAt(offset int) error
	WriteAt(offset int, buf []byte) error
	ReadAt(offset int, buf []byte) error
}

var (
	ErrOutOfRange = errors.New("flashstore: offset out of range")
)

// Store is an append-only region starting at a fixed offset within a
// BlockDevice. The write cursor is process-local (spec.md section 4.3:
// "after reset it must be reconstructed by higher layers"); Store itself
// never persists or recovers it.
type Store struct {
	dev    BlockDevice
	offset int
	cursor int
}

func New(dev BlockDevice, offset int) *Store {
	return &Store{dev: dev, offset: offset}
}

// Erase bulk-erases one erase unit starting at the region's offset and
// resets the write cursor to 0.
func (s *Store) Erase() error {
	if err := s.dev.EraseAt(s.offset); err != nil {
		return fmt.Errorf("flashstore: erase: %w", err)
	}
	s.cursor = 0
	return nil
}

// Append writes buf[:length] at offset+cursor and advances cursor by
// length. No wrap and no bounds check beyond what the underlying
// BlockDevice enforces (spec.md section 4.3).
func (s *Store) Append(buf []byte, length int) error {
	if length > len(buf) {
		return fmt.Errorf("flashstore: append length %d exceeds buffer of %d bytes", length, len(buf))
	}
	if err := s.dev.WriteAt(s.offset+s.cursor, buf[:length]); err != nil {
		return fmt.Errorf("flashstore: append: %w", err)
	}
	s.cursor += length
	return nil
}

// Restore performs a random-access read of length bytes at
// offset+relativeOffset into out.
func (s *Store) Restore(out []byte, length int, relativeOffset int) error {
	if length > len(out) {
		return fmt.Errorf("flashstore: restore length %d exceeds buffer of %d bytes", length, len(out))
	}
	if relativeOffset < 0 {
		return ErrOutOfRange
	}
	if err := s.dev.ReadAt(s.offset+relativeOffset, out[:length]); err != nil {
		return fmt.Errorf("flashstore: restore: %w", err)
	}
	return nil
}

// Cursor reports the current write-cursor position, for higher layers that
// reconstruct it after a restart (spec.md section 4.3).
func (s *Store) Cursor() int {
	return s.cursor
}

// SetCursor lets a higher layer reconstruct the cursor after a restart,
// since Store itself does not persist it.
func (s *Store) SetCursor(cursor int) {
	s.cursor = cursor
}
