// Command apkesd runs a small in-process simulation of the Adaptable
// Pairwise Key Establishment Scheme: N nodes sharing a fake in-memory radio
// medium (wiretest.Medium), all bootstrapping against each other with a
// plain network-wide secret. It exists to exercise the Handshake Engine
// without real 802.15.4 hardware or link-layer security, the role the
// teacher's main.go plays for a single TUN-backed device.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"

	"github.com/kahnreaz/apkes"
	"github.com/kahnreaz/apkes/flags"
	"github.com/kahnreaz/apkes/wiretest"
)

func main() {
	opts := flags.NewOptions()
	if err := flags.Parse(opts); err != nil {
		log.Fatalf("apkesd: %v", err)
	}
	if opts.ShowVersion {
		log.Printf("apkesd (Adaptable Pairwise Key Establishment Scheme simulation)")
		return
	}

	nodes := opts.Nodes
	if nodes < 2 {
		nodes = 2
	}

	logLevel := apkes.LogLevelInfo
	switch opts.LogLevel {
	case "error":
		logLevel = apkes.LogLevelError
	case "debug":
		logLevel = apkes.LogLevelDebug
	}

	var secret [apkes.PairwiseKeyLen]byte
	if opts.SecretHex != "" {
		raw, err := hex.DecodeString(opts.SecretHex)
		if err != nil || len(raw) != apkes.PairwiseKeyLen {
			log.Fatalf("apkesd: --secret must be %d hex-encoded bytes", apkes.PairwiseKeyLen)
		}
		copy(secret[:], raw)
	} else if _, err := rand.Read(secret[:]); err != nil {
		log.Fatalf("apkesd: generating network secret: %v", err)
	}

	cfg := apkes.DefaultConfig()
	cfg.Rounds = opts.Rounds
	cfg.RoundDuration = opts.RoundDuration
	cfg.MaxTentativeNeighbors = opts.MaxTentativeNeighbors
	cfg.AckDelay = opts.AckDelay
	cfg.EBEAPWithEncryption = opts.EBEAPWithEncryption

	medium := wiretest.NewMedium()
	engines := make([]*apkes.Engine, nodes)

	for i := 0; i < nodes; i++ {
		self := apkes.Identity{Short: uint16(i + 1)}
		self.Extended[0] = byte(i + 1)
		if i == 0 {
			if opts.NodeExtendedHex != "" {
				if raw, err := hex.DecodeString(opts.NodeExtendedHex); err == nil {
					copy(self.Extended[:], raw)
				}
			}
			self.Short = opts.NodeShort
		}

		provider := apkes.NewPlainProvider(secret)
		var engine *apkes.Engine
		gw := wiretest.NewGateway(medium, self, func(cmd apkes.CommandID, sender apkes.Identity, payload []byte) {
			engine.OnCommandFrame(cmd, sender, payload)
		})

		var err error
		engine, err = apkes.NewEngine(cfg, logLevel, self, provider, gw)
		if err != nil {
			log.Fatalf("apkesd: node %d: %v", i, err)
		}
		defer engine.Close()
		engines[i] = engine
	}

	var wg sync.WaitGroup
	wg.Add(nodes)
	for _, engine := range engines {
		engine := engine
		engine.Bootstrap(func() { wg.Done() })
	}
	wg.Wait()

	log.Printf("apkesd: bootstrap complete across %d nodes", nodes)
}
