package hub

import (
	clipmodel "ClipSync/module/clip/model"
	"sync"
	"time"
)

// Transport is one device's live connection as the hub sees it. The gateway
// wraps the websocket (frame encode + write deadline) behind this; tests use
// a channel-backed fake.
type Transport interface {
	// SendItem delivers one clip event to the device. Implementations
	// bound the write with a deadline; an error means the connection is
	// unusable and the session will be dropped.
	SendItem(item *clipmodel.ClipItem) error
	Close() error
}

type sessionState int

const (
	stateCatchup sessionState = iota // replaying the delta window, live pushes buffer
	stateLive                        // caught up, live pushes enqueue directly
	stateClosed
)

// Session is the ephemeral server side of one device connection. Created on
// connect, destroyed on disconnect, never persisted. A device has at most
// one session; a new connection supersedes the old.
type Session struct {
	ID       string // connection snowflake
	UserID   string
	DeviceID string

	tr  Transport
	out chan *clipmodel.ClipItem // drained by a single writer goroutine

	mu         sync.Mutex
	state      sessionState
	pending    []*clipmodel.ClipItem // pushes that arrived mid-catchup
	replayedTo int64                 // highest sequence covered by the connect replay
	lastAcked  int64                 // in-memory cache of the persisted cursor

	heartbeat time.Time
	expireAt  time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id, userID, deviceID string, tr Transport, queueSize int, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		DeviceID:  deviceID,
		tr:        tr,
		out:       make(chan *clipmodel.ClipItem, queueSize),
		state:     stateCatchup,
		heartbeat: now,
		expireAt:  now.Add(ttl),
		closed:    make(chan struct{}),
	}
}

// LastAcked returns the highest sequence the device has confirmed on this
// session.
func (s *Session) LastAcked() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAcked
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.closed }

// enqueue hands a live push to the session. During catch-up the item goes to
// the pending buffer and is (re)considered once the replay finishes, so the
// device never observes a gap or a duplicate. Returns false when the session
// cannot take the item (closed, or queue full: slow reader) — the caller
// drops the session, retries belong to the pull path.
func (s *Session) enqueue(item *clipmodel.ClipItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateClosed:
		return false
	case stateCatchup:
		if len(s.pending) >= cap(s.out) {
			return false
		}
		s.pending = append(s.pending, item)
		return true
	}

	// the replay already delivered this one; a publish racing the connect
	// handoff must not deliver it twice
	if item.Seq <= s.replayedTo {
		return true
	}

	select {
	case s.out <- item:
		return true
	default:
		return false
	}
}

// finishCatchup flips the session live and drains the pending buffer,
// skipping anything the replay already covered. replayedTo is the highest
// sequence delivered by catch-up. Returns false if a pending item could not
// be queued (session must be dropped).
func (s *Session) finishCatchup(replayedTo int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateCatchup {
		return s.state == stateLive
	}
	s.state = stateLive
	s.replayedTo = replayedTo
	for _, it := range s.pending {
		if it.Seq <= replayedTo {
			continue // already delivered by the replay
		}
		select {
		case s.out <- it:
		default:
			return false
		}
	}
	s.pending = nil
	return true
}

// queueCatchup feeds one replayed item to the writer. Returns false when the
// queue is full (slow reader during replay).
func (s *Session) queueCatchup(item *clipmodel.ClipItem) bool {
	select {
	case s.out <- item:
		return true
	default:
		return false
	}
}

// markAcked advances the in-memory watermark; returns true when seq actually
// moved it (lower/duplicate acks are ignored).
func (s *Session) markAcked(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastAcked {
		return false
	}
	s.lastAcked = seq
	return true
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = stateClosed
		s.pending = nil
		s.mu.Unlock()
		close(s.closed)
		_ = s.tr.Close()
	})
}
