// Package chat layers the conversation behavior over the sync engine:
// typing indicator debounce, remote typing safety expiry and batch read
// receipts.
package chat

import (
	"log"
	"sync"
	"time"

	"github.com/partyware/go-partysync/internal/stats"
	"github.com/partyware/go-partysync/internal/store"
	"github.com/partyware/go-partysync/internal/transport"
	"github.com/partyware/go-partysync/internal/types"
)

const (
	// DefaultInactivityWindow is how long after the last keystroke a
	// stop-typing signal is emitted.
	DefaultInactivityWindow = 2000 * time.Millisecond
	// DefaultSafetyWindow bounds how long a remote typing indicator may
	// live without a stop signal. It defends against a dropped
	// stop-typing event.
	DefaultSafetyWindow = 6000 * time.Millisecond
)

// ChatDispatcher is the slice of the action dispatcher the chat engine
// drives.
type ChatDispatcher interface {
	SetTyping(peerId int, active bool) error
	MarkConversationRead(peerId int) error
}

type Engine struct {
	log        *log.Logger
	store      *store.Store
	dispatcher ChatDispatcher
	stats      stats.StatsProvider

	inactivityWindow time.Duration
	safetyWindow     time.Duration

	mu           sync.Mutex
	localTimers  map[int]*time.Timer
	remoteTimers map[int]*time.Timer
}

func NewEngine(logger *log.Logger, st *store.Store, d ChatDispatcher, su stats.StatsProvider) *Engine {
	su.RegisterMetric(stats.ActiveTypingPeers)

	return &Engine{
		log:              logger,
		store:            st,
		dispatcher:       d,
		stats:            su,
		inactivityWindow: DefaultInactivityWindow,
		safetyWindow:     DefaultSafetyWindow,
		localTimers:      make(map[int]*time.Timer),
		remoteTimers:     make(map[int]*time.Timer),
	}
}

// SetWindows overrides the typing timeouts, for tests.
func (e *Engine) SetWindows(inactivity, safety time.Duration) {
	e.inactivityWindow = inactivity
	e.safetyWindow = safety
}

// Keystroke records local typing activity in a conversation. The first
// keystroke after idle emits typing; each subsequent keystroke resets
// the inactivity timer.
func (e *Engine) Keystroke(peerId int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if timer, composing := e.localTimers[peerId]; composing {
		timer.Reset(e.inactivityWindow)
		return
	}

	if err := e.dispatcher.SetTyping(peerId, true); err != nil {
		e.log.Println("emit typing:", err)
		return
	}
	e.localTimers[peerId] = time.AfterFunc(e.inactivityWindow, func() {
		e.stopComposing(peerId)
	})
}

// StopComposing clears local typing for a conversation, emitting
// stop-typing if a typing signal is outstanding. Called on send, on
// explicit clear and on inactivity expiry.
func (e *Engine) StopComposing(peerId int) {
	e.stopComposing(peerId)
}

func (e *Engine) stopComposing(peerId int) {
	e.mu.Lock()
	timer, composing := e.localTimers[peerId]
	if composing {
		timer.Stop()
		delete(e.localTimers, peerId)
	}
	e.mu.Unlock()

	if !composing {
		return
	}
	if err := e.dispatcher.SetTyping(peerId, false); err != nil {
		e.log.Println("emit stop-typing:", err)
	}
}

// OpenConversation marks the conversation read: the batch receipt is
// emitted once and the local projection updates optimistically.
func (e *Engine) OpenConversation(peerId int) error {
	return e.dispatcher.MarkConversationRead(peerId)
}

// TypingReceived toggles the remote typing indicator for a peer and
// arms the safety expiry.
func (e *Engine) TypingReceived(userId int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if timer, active := e.remoteTimers[userId]; active {
		timer.Reset(e.safetyWindow)
	} else {
		e.remoteTimers[userId] = time.AfterFunc(e.safetyWindow, func() {
			e.expireRemote(userId)
		})
		e.stats.Incr(stats.ActiveTypingPeers)
	}

	e.store.SetTypingState(types.TypingState{
		UserId:   userId,
		PeerId:   e.store.UserId(),
		Deadline: transport.Now().Add(e.safetyWindow),
	})
}

// StopTypingReceived clears the remote typing indicator. Stale or
// repeated stop signals are no-ops.
func (e *Engine) StopTypingReceived(userId int) {
	e.clearRemote(userId)
}

// expireRemote is the safety path for a dropped stop-typing event.
func (e *Engine) expireRemote(userId int) {
	e.log.Printf("typing indicator for user %d expired without stop signal", userId)
	e.clearRemote(userId)
}

func (e *Engine) clearRemote(userId int) {
	e.mu.Lock()
	timer, active := e.remoteTimers[userId]
	if active {
		timer.Stop()
		delete(e.remoteTimers, userId)
	}
	e.mu.Unlock()

	if !active {
		return
	}
	e.stats.Decr(stats.ActiveTypingPeers)
	e.store.ClearTypingState(userId)
}

// Stop cancels every outstanding timer at session teardown.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for peerId, timer := range e.localTimers {
		timer.Stop()
		delete(e.localTimers, peerId)
	}
	for userId, timer := range e.remoteTimers {
		timer.Stop()
		delete(e.remoteTimers, userId)
	}
}
