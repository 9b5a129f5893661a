package opal

// UID identifies a TCG Opal object or method, always 8 bytes.
type UID [8]byte

// Well-known UIDs used by the subset of TCG Opal this loader drives: opening
// a session on the LockingSP as Admin1, and setting the first locking
// range's lock state plus the shadow MBR's Done flag.
var (
	UIDSMUID          = UID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x01}
	UIDThisSP         = UID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	UIDSessionManager = UID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x02}
	UIDStartSession   = UID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x02}
	UIDLockingSP      = UID{0x00, 0x00, 0x02, 0x05, 0x00, 0x00, 0x00, 0x02}
	UIDAdmin1         = UID{0x00, 0x00, 0x00, 0x09, 0x00, 0x01, 0x00, 0x01}
	UIDLockingRange0  = UID{0x00, 0x00, 0x08, 0x02, 0x00, 0x00, 0x00, 0x01}
	UIDMBRControl     = UID{0x00, 0x00, 0x08, 0x03, 0x00, 0x00, 0x80, 0x01}
	UIDMethodSet      = UID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x06}
	UIDMethodEndSess  = UID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff}
)
