package opal

import (
	"context"
	"fmt"

	"github.com/oberien/opal-uefi-greeter/internal/errs"
)

// LockingState is the Set value applied to LOCKING_RANGE_0's ReadLocked/
// WriteLocked pair.
type LockingState int

const (
	LockingStateReadWrite LockingState = iota
	LockingStateReadOnly
	LockingStateLockedOut
)

func (s LockingState) readWriteLocked() (readLocked, writeLocked bool) {
	switch s {
	case LockingStateReadWrite:
		return false, false
	case LockingStateReadOnly:
		return false, true
	case LockingStateLockedOut:
		return true, true
	default:
		return true, true
	}
}

// sessionState names the points in C3's state machine: Discovered ->
// SessionOpen(hsn,tsn) -> LockingRangeSet -> MbrDoneSet -> SessionClosed.
// Any method returning a non-SUCCESS status is terminal for the session.
type sessionState int

const (
	stateDiscovered sessionState = iota
	stateSessionOpen
	stateLockingRangeSet
	stateMbrDoneSet
	stateSessionClosed
)

// Session is an open TCG Opal session against a single security provider,
// authenticated as a single authority.
type Session struct {
	dev   *SecureDevice
	hsn   uint32
	tsn   uint32
	state sessionState
}

var nextHostSessionNumber uint32 = 1

// StartSession opens a session on sp, authenticating as authority with an
// optional 32-byte challenge (nil for anonymous/no-auth sessions).
func StartSession(ctx context.Context, dev *SecureDevice, sp, authority UID, challenge []byte) (*Session, error) {
	hsn := nextHostSessionNumber
	nextHostSessionNumber++

	var w tokenWriter
	w.call(UIDSMUID, UIDStartSession, func() {
		w.uint64(uint64(hsn))
		w.uid(sp)
		w.bool(true) // write
		if challenge != nil {
			w.namedValue(0, func() { w.bytes(challenge) })          // HostChallenge
			w.namedValue(3, func() { w.uid(authority) })            // HostSigningAuthority
		}
	})

	resp, err := exchange(ctx, dev.Proto(), dev.ComID(), 0, 0, w.bytesOut())
	if err != nil {
		return nil, fmt.Errorf("StartSession: %w", err)
	}

	tsn, err := parseSyncSession(resp.payload)
	if err != nil {
		return nil, fmt.Errorf("StartSession SyncSession: %w", err)
	}

	return &Session{dev: dev, hsn: hsn, tsn: tsn, state: stateSessionOpen}, nil
}

// parseSyncSession extracts the TPer session number from a SyncSession
// method-call response: Call SMUID SyncSession StartList <hsn> <tsn> EndList
// EndOfData StartList <status x3> EndList.
func parseSyncSession(payload []byte) (tsn uint32, err error) {
	r := newTokenReader(payload)
	var ints []uint64
	for !r.atEnd() {
		tok, data, structural, err := r.next()
		if err != nil {
			return 0, err
		}
		if structural {
			if tok == tokenEndOfData {
				break
			}
			continue
		}
		ints = append(ints, atomUint(data))
	}
	if len(ints) < 2 {
		return 0, fmt.Errorf("SyncSession response too short")
	}
	// ints[0] is the method-call invoking-uid byte count artifact skipped by
	// next()'s flattening; the session numbers are the trailing pair the
	// TPer echoes back: host session number, then TPer session number.
	return uint32(ints[len(ints)-1]), nil
}

// method issues a Method call on obj against the session's SP, returning the
// response payload on a SUCCESS status.
func (s *Session) method(ctx context.Context, obj, methodUID UID, argsFn func(*tokenWriter)) ([]byte, error) {
	if s.state == stateSessionClosed {
		return nil, fmt.Errorf("opal: session already closed")
	}
	var w tokenWriter
	w.call(obj, methodUID, func() {
		if argsFn != nil {
			argsFn(&w)
		}
	})
	resp, err := exchange(ctx, s.dev.Proto(), s.dev.ComID(), s.tsn, s.hsn, w.bytesOut())
	if err != nil {
		s.state = stateSessionClosed
		return nil, err
	}
	if err := parseMethodStatus(resp.payload); err != nil {
		s.state = stateSessionClosed
		return nil, err
	}
	return resp.payload, nil
}

// parseMethodStatus scans a method response for the trailing MethodStatus
// list and converts it to an error (nil on SUCCESS).
func parseMethodStatus(payload []byte) (err error) {
	r := newTokenReader(payload)
	var trailing []uint64
	seenEndOfData := false
	for !r.atEnd() {
		tok, data, structural, e := r.next()
		if e != nil {
			return e
		}
		if structural {
			switch tok {
			case tokenEndOfData:
				seenEndOfData = true
				trailing = nil
			case tokenStartList, tokenEndList:
				// ignore list brackets; integers accumulate across them
			}
			continue
		}
		if seenEndOfData {
			trailing = append(trailing, atomUint(data))
		}
	}
	return statusFromList(trailing)
}

// SetLockingRange sets LOCKING_RANGE_0's ReadLocked/WriteLocked pair.
func (s *Session) SetLockingRange(ctx context.Context, state LockingState) error {
	readLocked, writeLocked := state.readWriteLocked()
	_, err := s.method(ctx, UIDLockingRange0, UIDMethodSet, func(w *tokenWriter) {
		w.namedValue(1, func() { // Values
			w.startList()
			w.namedValue(5, func() { w.bool(readLocked) })  // ReadLocked
			w.namedValue(6, func() { w.bool(writeLocked) }) // WriteLocked
			w.endList()
		})
	})
	if err != nil {
		return fmt.Errorf("Set LockingRange0: %w", err)
	}
	s.state = stateLockingRangeSet
	return nil
}

// SetMBRDone dismisses (or re-arms) the shadow MBR.
func (s *Session) SetMBRDone(ctx context.Context, done bool) error {
	_, err := s.method(ctx, UIDMBRControl, UIDMethodSet, func(w *tokenWriter) {
		w.namedValue(1, func() {
			w.startList()
			w.namedValue(2, func() { w.bool(done) }) // Done
			w.endList()
		})
	})
	if err != nil {
		return fmt.Errorf("Set MBRControl: %w", err)
	}
	s.state = stateMbrDoneSet
	return nil
}

// Close sends EndOfSession (token 0xFA) and marks the session terminal.
func (s *Session) Close(ctx context.Context) error {
	if s.state == stateSessionClosed {
		return nil
	}
	payload := []byte{tokenEndOfSession}
	_, err := exchange(ctx, s.dev.Proto(), s.dev.ComID(), s.tsn, s.hsn, payload)
	s.state = stateSessionClosed
	if err != nil {
		return fmt.Errorf("EndOfSession: %w", err)
	}
	return nil
}

// Unlock is the high-level entry point: start a session as Admin1 on the
// LockingSP with the given 32-byte PIN hash, set locking range 0 to
// ReadWrite, dismiss the shadow MBR, and close the session.
func Unlock(ctx context.Context, dev *SecureDevice, pinHash []byte) error {
	if len(pinHash) != 32 {
		return fmt.Errorf("%w: got %d bytes", errs.ErrRawKeyInvalidLength, len(pinHash))
	}
	session, err := StartSession(ctx, dev, UIDLockingSP, UIDAdmin1, pinHash)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	if err := session.SetLockingRange(ctx, LockingStateReadWrite); err != nil {
		return err
	}
	if err := session.SetMBRDone(ctx, true); err != nil {
		return err
	}
	return nil
}
