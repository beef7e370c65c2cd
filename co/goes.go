// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package co carries small goroutine lifecycle helpers.
package co

import "sync"

// Goes tracks goroutines so callers can wait for all of them on shutdown.
type Goes struct {
	wg sync.WaitGroup
}

// Go runs f in a goroutine tracked by g.
func (g *Goes) Go(f func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		f()
	}()
}

// Wait blocks until every tracked goroutine has returned.
func (g *Goes) Wait() {
	g.wg.Wait()
}

// Done returns a channel closed once every tracked goroutine has returned,
// so shutdown can be part of a select.
func (g *Goes) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.wg.Wait()
	}()
	return done
}
