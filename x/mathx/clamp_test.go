package mathx

import "testing"

func TestClamp(t *testing.T) {
	if Clamp(5, 10, 0) != 5 || Clamp(-1, 0, 10) != 0 || Clamp(11, 0, 10) != 10 {
		t.Fatal("Clamp")
	}
}

func TestSatAdd(t *testing.T) {
	if got := SatAdd[uint8](250, 3, 255); got != 253 {
		t.Fatalf("got %d", got)
	}
	if got := SatAdd[uint8](254, 3, 255); got != 255 {
		t.Fatalf("got %d", got)
	}
	if got := SatAdd[uint32](255, 1, 255); got != 255 {
		t.Fatalf("got %d", got)
	}
	if got := SatAdd[uint32](10, 1, 10); got != 10 {
		t.Fatalf("got %d", got)
	}
}

func TestAbs(t *testing.T) {
	if Abs(int64(-625)) != 625 || Abs(int32(7)) != 7 || Abs(0) != 0 {
		t.Fatal("Abs")
	}
}
