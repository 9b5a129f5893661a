package cmdline

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"
)

func TestWithInitrdMemExactFormat(t *testing.T) {
	got := WithInitrdMem("foo bar", 0x1234, 100)
	want := "foo bar initrdmem=4660,100"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWithInitrdMemDecimalNoPadding(t *testing.T) {
	got := WithInitrdMem("", 1, 2)
	want := " initrdmem=1,2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncodeUTF16RoundTripsASCII(t *testing.T) {
	units := EncodeUTF16("foo bar initrdmem=4660,100")
	if units[len(units)-1] != 0 {
		t.Fatalf("expected NUL terminator")
	}
	decoded := string(utf16.Decode(units[:len(units)-1]))
	if decoded != "foo bar initrdmem=4660,100" {
		t.Fatalf("decoded = %q", decoded)
	}
}

func TestToLoadOptionsBytesIsLittleEndianAndNulTerminated(t *testing.T) {
	b := ToLoadOptionsBytes("ab")
	if len(b) != 6 { // 'a', 'b', NUL, each 2 bytes
		t.Fatalf("got %d bytes, want 6", len(b))
	}
	if binary.LittleEndian.Uint16(b[0:2]) != 'a' || binary.LittleEndian.Uint16(b[2:4]) != 'b' {
		t.Fatalf("unexpected code units: % x", b)
	}
	if binary.LittleEndian.Uint16(b[4:6]) != 0 {
		t.Fatalf("expected trailing NUL code unit")
	}
}

func TestEncodeUTF16HandlesNonBMPRune(t *testing.T) {
	units := EncodeUTF16("a\U0001F600b")
	if len(units) != 5 { // 'a', high surrogate, low surrogate, 'b', NUL
		t.Fatalf("got %d units, want 5", len(units))
	}
	if units[len(units)-1] != 0 {
		t.Fatalf("expected NUL terminator")
	}
}
