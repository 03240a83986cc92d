package password

import (
	"strings"
	"testing"
)

var fastParams = Params{Memory: 1024, Time: 1, Threads: 1, KeyLen: 16, SaltLen: 8}

func TestHashRoundTrip(t *testing.T) {
	encoded, err := HashWith(fastParams, "correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	if !Verify("correct horse", encoded) {
		t.Fatalf("expected password to verify")
	}
	if Verify("battery staple", encoded) {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	a, err := HashWith(fastParams, "same")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := HashWith(fastParams, "same")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a == b {
		t.Fatalf("expected different salts")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	} {
		if Verify("anything", encoded) {
			t.Fatalf("expected %q to be rejected", encoded)
		}
	}
}
