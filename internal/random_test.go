package internal

import "testing"

// FuzzParseSessionID exercises session id parsing with arbitrary strings.
// Goal: no panics; only 16-byte base64url ids parse.
func FuzzParseSessionID(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("!!!not-base64!!!")
	f.Add("AAAAAAAAAAAAAAAAAAAAAA")
	if sid, err := NewSessionID(); err == nil {
		f.Add(sid.String())
	}

	f.Fuzz(func(t *testing.T, input string) {
		sid, err := ParseSessionID(input)
		if err != nil {
			return
		}
		again, err := ParseSessionID(sid.String())
		if err != nil {
			t.Fatalf("roundtrip parse failed: %v", err)
		}
		if again != sid {
			t.Fatalf("roundtrip mismatch")
		}
	})
}

func TestNewSessionIDIsUnique(t *testing.T) {
	seen := make(map[SessionID]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		sid, err := NewSessionID()
		if err != nil {
			t.Fatalf("new session id: %v", err)
		}
		if _, dup := seen[sid]; dup {
			t.Fatalf("duplicate session id %s", sid)
		}
		seen[sid] = struct{}{}
		if len(sid.String()) != 22 {
			t.Fatalf("expected 22 char id, got %q", sid.String())
		}
	}
}

func TestNewSecret(t *testing.T) {
	b, err := NewSecret(32)
	if err != nil || len(b) != 32 {
		t.Fatalf("expected 32 bytes, got %d (%v)", len(b), err)
	}
	if _, err := NewSecret(0); err == nil {
		t.Fatal("expected error for zero size")
	}
}
