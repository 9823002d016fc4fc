package flags

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// Parse fills opts from os.Args, the way the teacher's Parse fills an
// Options struct for its own daemon: defaults first, then an optional
// positional argument.
func Parse(opts *Options) error {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [node-0-extended-address-hex]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	pflag.IntVar(&opts.Nodes, "nodes", 4, "Number of simulated nodes sharing the fake radio medium")
	pflag.IntVar(&opts.Rounds, "rounds", 6, "Number of bootstrap HELLO broadcasts")
	pflag.DurationVar(&opts.RoundDuration, "round-duration", 7*time.Second, "Duration of each bootstrap round")
	pflag.IntVar(&opts.MaxTentativeNeighbors, "max-tentative", 2, "Wait-timer pool capacity")
	pflag.DurationVar(&opts.AckDelay, "ack-delay", 5*time.Second, "Budget for the ACK to arrive after a HELLOACK")
	pflag.BoolVar(&opts.EBEAPWithEncryption, "ebeap", false, "Piggyback the broadcast key on HELLOACK/ACK")
	pflag.Uint16Var(&opts.NodeShort, "short-addr", 1, "Node 0's short address")
	pflag.StringVar(&opts.SecretHex, "secret", "", "Hex-encoded 16-byte network-wide secret (plain provider); random if empty")
	pflag.StringVar(&opts.LogLevel, "log-level", "info", "error, info, or debug")
	pflag.BoolVarP(&opts.ShowVersion, "version", "v", false, "Print the version number and exit")

	pflag.Parse()

	if opts.ShowVersion {
		return nil
	}

	return setNodeIdentity(opts)
}

// setNodeIdentity consumes the optional positional argument: node 0's
// extended address, as hex. Left blank, the caller picks a default.
func setNodeIdentity(opts *Options) error {
	switch pflag.NArg() {
	case 0:
		return nil
	case 1:
		opts.NodeExtendedHex = pflag.Arg(0)
		return nil
	default:
		return fmt.Errorf("at most one positional argument (node-0 extended address hex), got %d", pflag.NArg())
	}
}
