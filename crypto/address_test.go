package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestBech32RoundTrip(t *testing.T) {
	api := NewBech32API("kujira")
	for _, size := range []int{AccountAddressLength, ContractAddressLength} {
		raw := fill(size, 0x42)
		addr, err := api.Humanize(raw)
		if err != nil {
			t.Fatalf("humanize %d bytes: %v", size, err)
		}
		if !strings.HasPrefix(addr, "kujira1") {
			t.Fatalf("expected kujira prefix, got %s", addr)
		}
		if err := api.ValidateAddress(addr); err != nil {
			t.Fatalf("validate %s: %v", addr, err)
		}
		back, err := api.Canonicalize(addr)
		if err != nil {
			t.Fatalf("canonicalize: %v", err)
		}
		if !bytes.Equal(back, raw) {
			t.Fatalf("round trip mismatch: %x != %x", back, raw)
		}
	}
}

func TestValidateAddressRejects(t *testing.T) {
	api := NewBech32API("kujira")
	other := NewBech32API("osmo")
	foreign, err := other.Humanize(fill(20, 0x01))
	if err != nil {
		t.Fatalf("humanize: %v", err)
	}
	valid, err := api.Humanize(fill(20, 0x01))
	if err != nil {
		t.Fatalf("humanize: %v", err)
	}

	cases := []struct {
		name string
		addr string
		want error
	}{
		{name: "empty", addr: "", want: ErrEmptyAddress},
		{name: "prefix", addr: foreign, want: ErrAddressPrefix},
		{name: "upper case", addr: strings.ToUpper(valid), want: ErrAddressNotNorm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := api.ValidateAddress(tc.addr); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if err := api.ValidateAddress("ctrlA"); err == nil {
		t.Fatalf("expected plain label to be rejected")
	}
	if _, err := api.Humanize(fill(7, 0x01)); !errors.Is(err, ErrAddressLength) {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestInstantiate2AddressDeterministic(t *testing.T) {
	checksum := fill(32, 0x13)
	creator := fill(32, 0x99)

	first, err := Instantiate2Address(checksum, creator, []byte("salt_1"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	again, err := Instantiate2Address(checksum, creator, []byte("salt_1"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !bytes.Equal(first, again) {
		t.Fatalf("derivation not deterministic")
	}
	if len(first) != ContractAddressLength {
		t.Fatalf("expected 32 byte address, got %d", len(first))
	}
	other, err := Instantiate2Address(checksum, creator, []byte("salt_2"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if bytes.Equal(first, other) {
		t.Fatalf("different salts produced the same address")
	}

	if _, err := Instantiate2Address(fill(31, 0), creator, []byte("s")); !errors.Is(err, ErrChecksumLength) {
		t.Fatalf("expected checksum error, got %v", err)
	}
	if _, err := Instantiate2Address(checksum, creator, nil); !errors.Is(err, ErrSaltLength) {
		t.Fatalf("expected salt error, got %v", err)
	}
	if _, err := Instantiate2Address(checksum, creator, fill(65, 1)); !errors.Is(err, ErrSaltLength) {
		t.Fatalf("expected salt error, got %v", err)
	}
}

func TestControllerSalt(t *testing.T) {
	short := ControllerSalt("kujira1credit", 1700000000)
	if string(short) != "kujira1credit_1700000000" {
		t.Fatalf("unexpected salt %q", short)
	}
	long := ControllerSalt(strings.Repeat("c", 70), 1700000000)
	if len(long) != 32 {
		t.Fatalf("expected digest salt, got %d bytes", len(long))
	}
	if !bytes.Equal(long, ControllerSalt(strings.Repeat("c", 70), 1700000000)) {
		t.Fatalf("digest salt not deterministic")
	}
	if _, err := Instantiate2Address(fill(32, 1), fill(32, 2), long); err != nil {
		t.Fatalf("digest salt rejected: %v", err)
	}
}
