package main

import (
	"sync"

	"github.com/haasonsaas/agentscript/internal/session"
	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// subscribeFromStart subscribes fn to every event sess's emitter produces
// and replays whatever it already emitted before the subscription landed,
// without delivering any event twice. broker.CreateSession starts a
// session's execution goroutine before returning, so a caller that only
// calls Emitter().Subscribe afterward can otherwise miss early events
// such as session_init.
func subscribeFromStart(sess *session.Session, fn func(protocol.Event)) (unsubscribe func()) {
	var mu sync.Mutex
	seen := make(map[uint64]bool)

	deliver := func(e protocol.Event) {
		mu.Lock()
		if seen[e.Seq] {
			mu.Unlock()
			return
		}
		seen[e.Seq] = true
		mu.Unlock()
		fn(e)
	}

	unsub := sess.Emitter().Subscribe(deliver)
	for _, e := range sess.Emitter().History() {
		deliver(e)
	}
	return unsub
}
