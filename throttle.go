// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package proteodiff

import (
	"runtime"
	"sync"
)

// throttle runs at most Max functions at a time. Max < 1 means one
// per CPU.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan bool
	setupOnce sync.Once
}

func (t *throttle) Acquire() {
	t.setupOnce.Do(func() {
		if t.Max < 1 {
			t.Max = runtime.NumCPU()
		}
		t.ch = make(chan bool, t.Max)
	})
	t.wg.Add(1)
	t.ch <- true
}

func (t *throttle) Release() {
	<-t.ch
	t.wg.Done()
}

// Go waits for a free slot, then calls f in a new goroutine.
func (t *throttle) Go(f func()) {
	t.Acquire()
	go func() {
		defer t.Release()
		f()
	}()
}

func (t *throttle) Wait() {
	t.wg.Wait()
}
