// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"sync"
	"testing"
	"time"
)

func TestEmitter_SubscribeAndEmit(t *testing.T) {
	e := NewEmitter()

	var received []Type
	e.Subscribe(func(event *Event) {
		received = append(received, event.Type)
	})

	e.Emit(TypeLoadingStarted, RunData{Total: 3})
	e.Emit(TypeComponentLoaded, ComponentData{ComponentID: "db"})

	if len(received) != 2 {
		t.Fatalf("received %d events, want 2", len(received))
	}
	if received[0] != TypeLoadingStarted || received[1] != TypeComponentLoaded {
		t.Errorf("unexpected order: %v", received)
	}
}

func TestEmitter_TypeFilter(t *testing.T) {
	e := NewEmitter()

	var received []Type
	e.Subscribe(func(event *Event) {
		received = append(received, event.Type)
	}, TypeComponentFailed, TypeCriticalFailure)

	e.Emit(TypeComponentLoaded, nil)
	e.Emit(TypeComponentFailed, nil)
	e.Emit(TypePhaseStarted, nil)
	e.Emit(TypeCriticalFailure, nil)

	if len(received) != 2 {
		t.Fatalf("received %d events, want 2: %v", len(received), received)
	}
}

func TestEmitter_CustomFilter(t *testing.T) {
	e := NewEmitter()

	var received int
	e.SubscribeWithFilter(
		func(event *Event) { received++ },
		func(event *Event) bool {
			data, ok := event.Data.(ComponentData)
			return ok && data.ComponentID == "db"
		},
	)

	e.Emit(TypeComponentLoaded, ComponentData{ComponentID: "db"})
	e.Emit(TypeComponentLoaded, ComponentData{ComponentID: "cache"})

	if received != 1 {
		t.Errorf("received %d events, want 1", received)
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter()

	var received int
	id := e.Subscribe(func(event *Event) { received++ })

	e.Emit(TypeLoadingStarted, nil)
	if !e.Unsubscribe(id) {
		t.Fatal("Unsubscribe: expected true")
	}
	e.Emit(TypeLoadingCompleted, nil)

	if received != 1 {
		t.Errorf("received %d events, want 1", received)
	}
	if e.Unsubscribe(id) {
		t.Error("second Unsubscribe should return false")
	}
}

func TestEmitter_HandlerPanicRecovered(t *testing.T) {
	e := NewEmitter()

	var after int
	e.Subscribe(func(event *Event) { panic("handler bug") })
	e.Subscribe(func(event *Event) { after++ })

	e.Emit(TypeLoadingStarted, nil)

	if after != 1 {
		t.Errorf("second handler ran %d times, want 1", after)
	}
}

func TestEmitter_BufferCapacity(t *testing.T) {
	e := NewEmitter(WithBufferSize(3))

	e.Emit(TypePhaseStarted, PhaseData{Phase: "critical"})
	e.Emit(TypePhaseStarted, PhaseData{Phase: "core"})
	e.Emit(TypePhaseStarted, PhaseData{Phase: "functional"})
	e.Emit(TypePhaseStarted, PhaseData{Phase: "enhancement"})

	buf := e.GetBuffer()
	if len(buf) != 3 {
		t.Fatalf("buffer length = %d, want 3", len(buf))
	}
	// Oldest entry evicted.
	first := buf[0].Data.(PhaseData)
	if first.Phase != "core" {
		t.Errorf("oldest buffered phase = %s, want core", first.Phase)
	}
}

func TestEmitter_GetBufferByType(t *testing.T) {
	e := NewEmitter()

	e.Emit(TypeComponentLoaded, ComponentData{ComponentID: "a"})
	e.Emit(TypeComponentFailed, ComponentData{ComponentID: "b"})
	e.Emit(TypeComponentLoaded, ComponentData{ComponentID: "c"})

	loaded := e.GetBufferByType(TypeComponentLoaded)
	if len(loaded) != 2 {
		t.Errorf("loaded events = %d, want 2", len(loaded))
	}
}

func TestEmitter_GetBufferSince(t *testing.T) {
	e := NewEmitter()

	e.Emit(TypeLoadingStarted, nil)
	cutoff := time.Now()
	time.Sleep(time.Millisecond)
	e.Emit(TypeLoadingCompleted, nil)

	recent := e.GetBufferSince(cutoff)
	if len(recent) != 1 {
		t.Fatalf("recent events = %d, want 1", len(recent))
	}
	if recent[0].Type != TypeLoadingCompleted {
		t.Errorf("recent event = %s, want loadingCompleted", recent[0].Type)
	}
}

func TestEmitter_SessionID(t *testing.T) {
	e := NewEmitter(WithSessionID("boot-1"))

	e.Emit(TypeLoadingStarted, nil)
	e.SetSessionID("boot-2")
	e.Emit(TypeLoadingCompleted, nil)

	buf := e.GetBuffer()
	if buf[0].SessionID != "boot-1" || buf[1].SessionID != "boot-2" {
		t.Errorf("session ids = %q, %q", buf[0].SessionID, buf[1].SessionID)
	}
}

func TestEmitter_ConcurrentEmit(t *testing.T) {
	e := NewEmitter(WithBufferSize(10000))

	var mu sync.Mutex
	received := 0
	e.Subscribe(func(event *Event) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				e.Emit(TypeComponentLoading, nil)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if received != 1000 {
		t.Errorf("received %d events, want 1000", received)
	}
	if got := len(e.GetBuffer()); got != 1000 {
		t.Errorf("buffered %d events, want 1000", got)
	}
}
