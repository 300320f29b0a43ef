package crypto

import (
	"bytes"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestHashPassword_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	pw := []byte("p@ssw0rd")
	salt := []byte("NaCl-16-bytes?")

	h1 := HashPassword(pw, salt)
	h2 := HashPassword(pw, salt)
	if len(h1) == 0 || !bytes.Equal(h1, h2) {
		t.Fatalf("hash not deterministic for same input")
	}
	if bytes.Equal(h1, HashPassword(pw, []byte("another-salt----"))) {
		t.Fatalf("hash should differ when salt differs")
	}
	if bytes.Equal(h1, HashPassword([]byte("p@ssw0rd!"), salt)) {
		t.Fatalf("hash should differ when password differs")
	}
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	pw := []byte("correct horse battery staple")
	salt := []byte("salty-salt-123456")
	hash := HashPassword(pw, salt)

	if !VerifyPassword(pw, salt, hash) {
		t.Fatalf("VerifyPassword: expected true for correct password")
	}
	if VerifyPassword([]byte("wrong"), salt, hash) {
		t.Fatalf("VerifyPassword: expected false for wrong password")
	}
	if VerifyPassword(pw, []byte("wrong-salt"), hash) {
		t.Fatalf("VerifyPassword: expected false for wrong salt")
	}
}

func TestNewSaltedHash_VerifyEncoded(t *testing.T) {
	t.Parallel()

	salt, hash, err := NewSaltedHash("s3cret")
	if err != nil {
		t.Fatalf("NewSaltedHash: %v", err)
	}
	if salt == "" || hash == "" {
		t.Fatalf("empty salt/hash")
	}
	if !VerifyEncoded("s3cret", salt, hash) {
		t.Fatalf("VerifyEncoded: expected true")
	}
	if VerifyEncoded("other", salt, hash) {
		t.Fatalf("VerifyEncoded: expected false for wrong password")
	}

	salt2, _, err := NewSaltedHash("s3cret")
	if err != nil {
		t.Fatalf("NewSaltedHash(2): %v", err)
	}
	if salt == salt2 {
		t.Fatalf("salts must differ between calls")
	}
}

func TestVerifyEncoded_Malformed(t *testing.T) {
	t.Parallel()

	salt, hash, _ := NewSaltedHash("pw")
	cases := []struct{ salt, hash string }{
		{"", hash},
		{salt, ""},
		{"!!not-base64!!", hash},
		{salt, "!!not-base64!!"},
	}
	for _, c := range cases {
		if VerifyEncoded("pw", c.salt, c.hash) {
			t.Fatalf("VerifyEncoded(%q, %q) should be false", c.salt, c.hash)
		}
	}
}
