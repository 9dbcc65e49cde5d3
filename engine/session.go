package engine

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/marcbinz/hlkv"
	"github.com/marcbinz/hlkv/epoch"
	"github.com/marcbinz/hlkv/internal/queue"
)

// pendingKind identifies which operation a parked pendingOp resumes.
type pendingKind int

const (
	pendingRead pendingKind = iota
	pendingUpsert
	pendingRMW
)

// pendingOp is a parked operation, queued when a lookup resolved to an
// address below Head (spec.md §4.6). retry captures the caller's context
// as passed; it is not cloned. CompletePending invokes retry once and
// drops the op whatever it returns: true counts it as completed, false
// as failed.
type pendingOp struct {
	kind   pendingKind
	serial uint64
	retry  func() bool
}

// Session is a thread/goroutine's handle into the engine: a GUID, a
// monotonic serial number, an epoch guard, and a pending-operation queue
// (spec.md §3, §4.6).
type Session struct {
	guid             uuid.UUID
	serial           atomic.Uint64
	persistentSerial atomic.Uint64
	guard            *epoch.Guard
	pending          *queue.MPSC[pendingOp]
	closed           atomic.Bool
}

// GUID returns the session's identifier.
func (s *Session) GUID() uuid.UUID { return s.guid }

// LastSerial returns the highest serial number issued so far on this
// session.
func (s *Session) LastSerial() uint64 { return s.serial.Load() }

// PersistentSerial returns the serial number ContinueSession resumed the
// session at, advanced to the serial of each parked operation that
// CompletePending completes. Checkpoints do not update it.
func (s *Session) PersistentSerial() uint64 { return s.persistentSerial.Load() }

// nextSerial validates and records a caller-supplied serial number. A
// serial of 0 means "unspecified" - used internally when CompletePending
// retries a parked operation - and is never recorded, since it would
// otherwise roll the session's serial counter backwards. Externally
// issued serial numbers must strictly increase within a session (spec.md
// §7); going backwards is a programmer-contract violation, not a normal
// error.
func (s *Session) nextSerial(serial uint64) {
	if serial == 0 {
		return
	}
	last := s.serial.Load()
	if serial <= last {
		hlkv.Violate("serial number %d did not increase past last issued serial %d", serial, last)
	}
	s.serial.Store(serial)
}

func newSession(guard *epoch.Guard) *Session {
	return &Session{
		guid:    uuid.New(),
		guard:   guard,
		pending: queue.New[pendingOp](),
	}
}
