package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func newTestBox(t *testing.T) (*Box, []byte) {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}
	box, err := NewBox(key)
	if err != nil {
		t.Fatalf("NewBox() failed: %v", err)
	}
	return box, key
}

func TestBoxRoundTrip(t *testing.T) {
	box, _ := newTestBox(t)

	for _, plaintext := range [][]byte{nil, []byte("{}"), bytes.Repeat([]byte("habit"), 4096)} {
		sealed, err := box.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt() failed: %v", err)
		}
		opened, err := box.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt() failed: %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("Decrypt() = %q, want %q", opened, plaintext)
		}
	}
}

func TestBoxNoncesDiffer(t *testing.T) {
	box, _ := newTestBox(t)
	a, _ := box.Encrypt([]byte("same"))
	b, _ := box.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestBoxDecryptFailures(t *testing.T) {
	box, _ := newTestBox(t)
	other, _ := newTestBox(t)
	sealed, err := box.Encrypt([]byte(`{"version":9}`))
	if err != nil {
		t.Fatal(err)
	}

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0x01
	wrongVersion := bytes.Clone(sealed)
	wrongVersion[0] = 0x7f

	tests := []struct {
		name  string
		box   *Box
		input []byte
	}{
		{"wrong key", other, sealed},
		{"tampered", box, tampered},
		{"unknown version", box, wrongVersion},
		{"truncated", box, sealed[:10]},
		{"empty", box, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.box.Decrypt(tt.input)
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
			}
		})
	}
}

func TestNewBoxRejectsBadKey(t *testing.T) {
	if _, err := NewBox([]byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("NewBox() error = %v, want ErrInvalidKey", err)
	}
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey("correct horse", "Home")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := DeriveKey("correct horse", " home ")
	c, _ := DeriveKey("correct horse", "work")
	d, _ := DeriveKey("battery staple", "home")

	if len(a) != KeySize {
		t.Errorf("derived key has %d bytes, want %d", len(a), KeySize)
	}
	if !bytes.Equal(a, b) {
		t.Error("sync name should be case and space insensitive")
	}
	if bytes.Equal(a, c) || bytes.Equal(a, d) {
		t.Error("different inputs should derive different keys")
	}
	if _, err := DeriveKey("", "home"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DeriveKey(\"\") error = %v, want ErrInvalidKey", err)
	}
}

func TestEncodeDecodeKey(t *testing.T) {
	_, key := newTestBox(t)
	got, err := DecodeKey(EncodeKey(key))
	if err != nil {
		t.Fatalf("DecodeKey() failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("DecodeKey(EncodeKey(k)) != k")
	}
	if _, err := DecodeKey("not*base64"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DecodeKey() error = %v, want ErrInvalidKey", err)
	}
	if _, err := DecodeKey(EncodeKey(key[:8])); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("DecodeKey(short) error = %v, want ErrInvalidKey", err)
	}
}

func TestAccountID(t *testing.T) {
	_, key := newTestBox(t)
	id := AccountID(key)
	if len(id) != 64 {
		t.Errorf("AccountID length = %d, want 64", len(id))
	}
	if AccountID(key) != id {
		t.Error("AccountID should be deterministic")
	}
	if bytes.Contains([]byte(id), []byte(EncodeKey(key))) {
		t.Error("AccountID must not embed the key")
	}
}
