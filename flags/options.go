// Package flags parses the apkesd command line into an Options value, the
// same split the teacher draws between flag parsing and the options struct
// it fills (flags.go / options.go).
package flags

import "time"

// Options configures the apkesd simulation run. The handshake knobs of
// spec.md section 6 are exposed except MaxWaitingPeriod, which is left at
// its default; zero values fall back to
// apkes.DefaultConfig() at the call site.
type Options struct {
	Nodes           int
	NodeExtendedHex string // optional: seeds node 0's extended address
	NodeShort       uint16

	Rounds                int
	RoundDuration         time.Duration
	MaxTentativeNeighbors int
	AckDelay              time.Duration
	EBEAPWithEncryption   bool

	SecretHex string
	LogLevel  string

	ShowVersion bool
}

func NewOptions() *Options {
	return &Options{}
}
