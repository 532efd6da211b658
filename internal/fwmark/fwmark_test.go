// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fwmark

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Mark{
		{NetID: 0, ExplicitlySelected: false, ProtectedFromVPN: false, Permission: PermissionNone},
		{NetID: 100, ExplicitlySelected: true, ProtectedFromVPN: true, Permission: PermissionSystem},
		{NetID: 65535, ExplicitlySelected: false, ProtectedFromVPN: true, Permission: PermissionNetwork},
	}

	for _, want := range cases {
		w := Encode(want)
		if w&^Mask != 0 {
			t.Fatalf("Encode(%+v) set bits outside Mask: %#x", want, w)
		}
		got := Decode(w)
		if got != want {
			t.Errorf("Decode(Encode(%+v)) = %+v, want %+v", want, got, want)
		}
	}
}

func TestPreservePreservesHighBits(t *testing.T) {
	const highBits = uint32(0xABC00000)
	word := highBits | Encode(Mark{NetID: 7})

	updated := Preserve(word, Mark{NetID: 9, ExplicitlySelected: true})

	if updated&^Mask != highBits {
		t.Errorf("Preserve clobbered high bits: got %#x, want %#x", updated&^Mask, highBits)
	}
	got := Decode(updated)
	if got.NetID != 9 || !got.ExplicitlySelected {
		t.Errorf("Preserve did not update masked bits: got %+v", got)
	}
}

func TestMaskIsLow20Bits(t *testing.T) {
	if Mask != 0x000FFFFF {
		t.Fatalf("Mask = %#x, want 0x000FFFFF", Mask)
	}
}
