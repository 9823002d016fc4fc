/* SPDX-License-Identifier: GPL-2.0
 *
 * Copyright (C) 2017-2018 Jason A. Donenfeld <Jason@zx2c4.com>. All Rights Reserved.
 */

// Package ratelimiter provides admission control for inbound HELLO frames,
// gating them before a wait-timer slot is even considered. It is a token
// bucket per sender address plus a single shared bucket across all senders,
// the same two-layer shape the teacher applies to its UDP ingress path
// (a per-source-IP Ratelimiter plus bounded channels), rekeyed here from
// net.IP to the 8-byte extended link-layer address spec.md identifies
// neighbors by.
package ratelimiter

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
)

const (
	packetsPerSecond   = 20
	packetsBurstable   = 5
	garbageCollectTime = time.Second
	packetCost         = 1000000000 / packetsPerSecond
	maxTokens          = packetCost * packetsBurstable
)

type entry struct {
	mutex    deadlock.Mutex
	lastTime time.Time
	tokens   int64
}

// Ratelimiter is a per-sender token bucket with an additional process-wide
// bucket (golang.org/x/time/rate) that bounds total HELLO admission rate
// regardless of how many distinct senders are flooding.
type Ratelimiter struct {
	mutex  deadlock.RWMutex
	stop   chan struct{}
	table  map[[8]byte]*entry
	global *rate.Limiter
}

func New() *Ratelimiter {
	r := &Ratelimiter{}
	r.Init()
	return r
}

// Init (re)initializes the limiter with a generous global budget, tuned so
// that a handful of well-behaved neighbors never trip it; only an actual
// flood across many senders does. Tests that want to exercise the global
// budget directly use InitWithGlobalBudget.
func (r *Ratelimiter) Init() {
	r.InitWithGlobalBudget(packetsPerSecond*1000, packetsBurstable*1000)
}

func (r *Ratelimiter) InitWithGlobalBudget(ratePerSecond float64, burst int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.stop != nil {
		close(r.stop)
	}

	r.stop = make(chan struct{})
	r.table = make(map[[8]byte]*entry)
	r.global = rate.NewLimiter(rate.Limit(ratePerSecond), burst)

	go r.collectGarbage()
}

func (r *Ratelimiter) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

func (r *Ratelimiter) collectGarbage() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mutex.Lock()
			for key, e := range r.table {
				e.mutex.Lock()
				stale := time.Since(e.lastTime) > garbageCollectTime
				e.mutex.Unlock()
				if stale {
					delete(r.table, key)
				}
			}
			r.mutex.Unlock()
		}
	}
}

// Allow reports whether a HELLO from addr may be admitted right now. It
// consults the global bucket first and only then the per-sender bucket, so
// a HELLO counts against the global budget even when its sender's own
// bucket then rejects it.
func (r *Ratelimiter) Allow(addr [8]byte) bool {
	if !r.global.Allow() {
		return false
	}

	r.mutex.RLock()
	e, ok := r.table[addr]
	r.mutex.RUnlock()

	if !ok {
		e = &entry{tokens: maxTokens - packetCost, lastTime: time.Now()}
		r.mutex.Lock()
		r.table[addr] = e
		r.mutex.Unlock()
		return true
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	now := time.Now()
	e.tokens += now.Sub(e.lastTime).Nanoseconds()
	e.lastTime = now
	if e.tokens > maxTokens {
		e.tokens = maxTokens
	}
	if e.tokens > packetCost {
		e.tokens -= packetCost
		return true
	}
	return false
}
