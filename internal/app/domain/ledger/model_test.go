package ledger

import "testing"

func TestEntryType_Valid(t *testing.T) {
	for _, kind := range []EntryType{TypeAdjust, TypeBatch, TypeP2P, TypeVoucher, TypePurchase} {
		if !kind.Valid() {
			t.Fatalf("%s should be valid", kind)
		}
	}
	if EntryType("WIRE").Valid() {
		t.Fatalf("unknown type accepted")
	}
	if EntryType("adjust").Valid() {
		t.Fatalf("type comparison must be case-sensitive")
	}
}

func TestEntryType_Label(t *testing.T) {
	if got := TypeVoucher.Label(); got != "voucher redemption" {
		t.Fatalf("label = %q", got)
	}
	// Unknown types fall back to their raw value.
	if got := EntryType("WIRE").Label(); got != "WIRE" {
		t.Fatalf("fallback label = %q", got)
	}
}
