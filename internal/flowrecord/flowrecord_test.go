package flowrecord

import (
	"net"
	"testing"

	"github.com/netflowd/netflowd/internal/addr"
)

func TestAddressFamiliesMatch(t *testing.T) {
	v4, _ := addr.FromIP(net.ParseIP("10.0.0.1"))
	v6, _ := addr.FromIP(net.ParseIP("2001:db8::1"))

	same := &Record{SrcAddr: v4, DstAddr: v4}
	if !same.AddressFamiliesMatch() {
		t.Fatalf("expected matching families to pass")
	}

	mixed := &Record{SrcAddr: v4, DstAddr: v6}
	if mixed.AddressFamiliesMatch() {
		t.Fatalf("expected mixed v4/v6 families to fail")
	}
}

func TestMaskIntersectAndHas(t *testing.T) {
	decoderMask := FieldRecvTime | FieldSrcAddr | FieldDstAddr | FieldASInfo
	storeMask := FieldRecvTime | FieldSrcAddr | FieldDstAddr // operator drops AS-info

	persisted := decoderMask.Intersect(storeMask)

	if !persisted.Has(FieldRecvTime) || !persisted.Has(FieldSrcAddr) {
		t.Fatalf("expected common fields to survive intersection")
	}
	if persisted.Has(FieldASInfo) {
		t.Fatalf("expected AS-info to be dropped by the store mask")
	}
	if persisted&^storeMask != 0 {
		t.Fatalf("persisted mask must be a subset of the store mask")
	}
}
