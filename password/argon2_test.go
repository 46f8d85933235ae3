package password

import (
	"errors"
	"strings"
	"testing"
)

// lightConfig keeps the test suite fast.
func lightConfig() Config {
	return Config{
		Memory:      minMemoryKB,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newHasher(t, lightConfig())

	hash, err := h.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := h.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("Verify: ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("wrong password: ok=%v err=%v", ok, err)
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := newHasher(t, lightConfig())

	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	h := newHasher(t, lightConfig())

	hash, err := h.Hash("padded-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	parts := strings.Split(hash, "$")
	parts[4] += "=="
	padded := strings.Join(parts, "$")

	if ok, err := h.Verify("padded-password", padded); err != nil || !ok {
		t.Fatalf("padded salt rejected: ok=%v err=%v", ok, err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	old := newHasher(t, lightConfig())
	hash, err := old.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	stronger := lightConfig()
	stronger.Time = 2

	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{name: "same parameters", cfg: lightConfig(), want: false},
		{name: "higher time cost", cfg: stronger, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := newHasher(t, tc.cfg).NeedsUpgrade(hash)
			if err != nil {
				t.Fatalf("NeedsUpgrade: %v", err)
			}
			if got != tc.want {
				t.Fatalf("NeedsUpgrade = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newHasher(t, lightConfig())

	tests := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2hvcnQ$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$",
	}
	for _, encoded := range tests {
		if _, err := h.Verify("whatever-password", encoded); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("Verify(%q) error = %v, want ErrMalformedHash", encoded, err)
		}
	}
}

func TestPasswordLengthBounds(t *testing.T) {
	cfg := lightConfig()
	cfg.MaxPasswordBytes = 64
	h := newHasher(t, cfg)

	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordLength) {
		t.Fatalf("short password: %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPasswordLength) {
		t.Fatalf("long password: %v", err)
	}

	exact := strings.Repeat("b", 64)
	hash, err := h.Hash(exact)
	if err != nil {
		t.Fatalf("max length rejected: %v", err)
	}
	if ok, err := h.Verify(exact, hash); err != nil || !ok {
		t.Fatalf("Verify max length: ok=%v err=%v", ok, err)
	}
	if _, err := h.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrPasswordLength) {
		t.Fatalf("Verify must reject long input: %v", err)
	}
}

func TestDefaultMaxPasswordBytesApplied(t *testing.T) {
	h := newHasher(t, lightConfig())

	if _, err := h.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordLength) {
		t.Fatalf("expected password > %d bytes to be rejected", DefaultMaxPasswordBytes)
	}
	if _, err := h.Hash(strings.Repeat("e", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("password of exactly %d bytes rejected: %v", DefaultMaxPasswordBytes, err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	weak := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: minMemoryKB, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: minMemoryKB, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: minMemoryKB, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: minMemoryKB, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
		{Memory: minMemoryKB, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MaxPasswordBytes: -1},
	}
	for i, cfg := range weak {
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("config %d accepted: %+v", i, cfg)
		}
	}
	if _, err := NewArgon2(DefaultConfig()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}
