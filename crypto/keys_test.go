package crypto

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

func TestIdentityRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id := key.PubKey().Identity()
	encoded := id.String()
	if !strings.HasPrefix(encoded, "wb1") {
		t.Fatalf("expected wb prefix, got %s", encoded)
	}
	decoded, err := DecodeIdentity(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.String() != encoded {
		t.Fatalf("round trip mismatch %s vs %s", decoded, encoded)
	}
}

func TestDecodeIdentityRejectsOtherPrefixes(t *testing.T) {
	other, err := NewAddress("zz", make([]byte, 20))
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	if _, err := DecodeIdentity(other.String()); err == nil {
		t.Fatalf("expected prefix mismatch")
	}
	if _, err := DecodeIdentity("not-bech32"); err == nil {
		t.Fatalf("expected decode failure")
	}
	if _, err := NewAddress(IdentityPrefix, []byte{1, 2}); err == nil {
		t.Fatalf("expected length failure")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() { scryptN, scryptP = keystore.StandardScryptN, keystore.StandardScryptP })

	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "identity.json")
	if err := SaveToKeystore(path, key, "hunter2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Identity().String() != key.PubKey().Identity().String() {
		t.Fatalf("loaded key controls a different identity")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
