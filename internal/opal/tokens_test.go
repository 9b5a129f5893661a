package opal

import "testing"

func TestTokenWriterTinyAtomRoundTrip(t *testing.T) {
	var w tokenWriter
	w.uint64(5)
	r := newTokenReader(w.bytesOut())
	_, data, structural, err := r.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if structural {
		t.Fatalf("expected a data atom, got structural token")
	}
	if atomUint(data) != 5 {
		t.Fatalf("got %d, want 5", atomUint(data))
	}
}

func TestTokenWriterShortAtomRoundTrip(t *testing.T) {
	var w tokenWriter
	w.uint64(0x1234)
	r := newTokenReader(w.bytesOut())
	_, data, _, err := r.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if atomUint(data) != 0x1234 {
		t.Fatalf("got %#x, want %#x", atomUint(data), 0x1234)
	}
}

func TestTokenWriterBytesRoundTrip(t *testing.T) {
	var w tokenWriter
	payload := []byte("hello opal")
	w.bytes(payload)
	r := newTokenReader(w.bytesOut())
	_, data, _, err := r.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(data) != "hello opal" {
		t.Fatalf("got %q, want %q", data, "hello opal")
	}
}

func TestTokenWriterCallFrameStructure(t *testing.T) {
	var w tokenWriter
	w.call(UIDSMUID, UIDStartSession, func() {
		w.uint64(1)
	})
	buf := w.bytesOut()
	if buf[0] != tokenCall {
		t.Fatalf("expected leading Call token, got %#x", buf[0])
	}
	r := newTokenReader(buf[1:])
	// invoking UID
	_, data, _, err := r.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if UID(data[:8]) != UIDSMUID {
		t.Fatalf("got invoking uid %x, want %x", data, UIDSMUID)
	}
}

func TestParseMethodStatusSuccess(t *testing.T) {
	var w tokenWriter
	w.token(tokenEndOfData)
	w.startList()
	w.uint64(0)
	w.uint64(0)
	w.uint64(0)
	w.endList()
	if err := parseMethodStatus(w.bytesOut()); err != nil {
		t.Fatalf("expected nil error for SUCCESS status, got %v", err)
	}
}

func TestParseMethodStatusNotAuthorized(t *testing.T) {
	var w tokenWriter
	w.token(tokenEndOfData)
	w.startList()
	w.uint64(uint64(StatusNotAuthorized))
	w.uint64(0)
	w.uint64(0)
	w.endList()
	err := parseMethodStatus(w.bytesOut())
	if err == nil {
		t.Fatalf("expected an error for NOT_AUTHORIZED status")
	}
}
