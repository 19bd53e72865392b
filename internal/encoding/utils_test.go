package encoding

import (
	"errors"
	"math"
	"testing"
)

func TestSlotsRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		slots []uint32
	}{
		{"empty", []uint32{}},
		{"single", []uint32{42}},
		{"max", []uint32{0, math.MaxUint32, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := SlotsToString(tt.slots)
			if err != nil {
				t.Fatalf("SlotsToString failed: %v", err)
			}
			got, err := SlotsFromString(s)
			if err != nil {
				t.Fatalf("SlotsFromString failed: %v", err)
			}
			if len(got) != len(tt.slots) {
				t.Fatalf("got %d slots, want %d", len(got), len(tt.slots))
			}
			for i := range got {
				if got[i] != tt.slots[i] {
					t.Errorf("slot %d = %d, want %d", i, got[i], tt.slots[i])
				}
			}
		})
	}
}

func TestDecodeSlotsInvalid(t *testing.T) {
	if _, err := EncodeSlots(nil); !errors.Is(err, ErrInvalidSlots) {
		t.Errorf("EncodeSlots(nil) = %v, want ErrInvalidSlots", err)
	}

	bad := [][]byte{
		nil,
		{1, 0},
		{2, 0, 0, 0, 1, 0, 0, 0},             // claims two slots, holds one
		{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}, // negative length
	}
	for i, data := range bad {
		if _, err := DecodeSlots(data); !errors.Is(err, ErrInvalidSlots) {
			t.Errorf("case %d: expected ErrInvalidSlots, got %v", i, err)
		}
	}

	if _, err := SlotsFromString("not base64!"); !errors.Is(err, ErrInvalidSlots) {
		t.Errorf("expected ErrInvalidSlots for bad base64, got %v", err)
	}
}
