/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2019 WireGuard LLC. All Rights Reserved.
 */

package ratelimiter

import (
	"testing"
	"time"
)

type ratelimiterResult struct {
	allowed bool
	text    string
	wait    time.Duration
}

func TestRatelimiter(t *testing.T) {
	var limiter Ratelimiter
	var expectedResults []ratelimiterResult

	nano := func(n int64) time.Duration {
		return time.Nanosecond * time.Duration(n)
	}

	add := func(res ratelimiterResult) {
		expectedResults = append(expectedResults, res)
	}

	for i := 0; i < packetsBurstable; i++ {
		add(ratelimiterResult{allowed: true, text: "initial burst"})
	}

	add(ratelimiterResult{allowed: false, text: "after burst"})

	add(ratelimiterResult{
		allowed: true,
		wait:    nano(time.Second.Nanoseconds() / packetsPerSecond),
		text:    "filling tokens for single packet",
	})

	add(ratelimiterResult{allowed: false, text: "not having refilled enough"})

	add(ratelimiterResult{
		allowed: true,
		wait:    2 * nano(time.Second.Nanoseconds()/packetsPerSecond),
		text:    "filling tokens for two packet burst",
	})

	add(ratelimiterResult{allowed: true, text: "second packet in 2 packet burst"})
	add(ratelimiterResult{allowed: false, text: "packet following 2 packet burst"})

	addrs := [][8]byte{
		{0x01}, {0x02}, {0x03}, {0x04}, {0x05},
		{0xaa, 0xbb}, {0xcc, 0xdd, 0xee}, {0xff, 0x01, 0x02, 0x03},
	}

	limiter.Init()

	for i, res := range expectedResults {
		time.Sleep(res.wait)
		for _, addr := range addrs {
			allowed := limiter.Allow(addr)
			if allowed != res.allowed {
				t.Fatalf("test failed for %x, on: %d (%s) expected: %v got: %v", addr, i, res.text, res.allowed, allowed)
			}
		}
	}
}

func TestRatelimiterGlobalBudget(t *testing.T) {
	var limiter Ratelimiter
	limiter.InitWithGlobalBudget(5, 5)
	defer limiter.Close()

	allowedCount := 0
	for i := 0; i < 20; i++ {
		var addr [8]byte
		addr[0] = byte(i) // a distinct sender every time
		if limiter.Allow(addr) {
			allowedCount++
		}
	}

	if allowedCount > 10 {
		t.Fatalf("expected the global budget to cap admissions well below the sender count, got %d allowed", allowedCount)
	}
}
