package vm

import (
	"testing"

	"rv39kernel/internal/mem"
)

func TestCopyInOutRoundtrip(t *testing.T) {
	as, fa := freshAS(64)
	seg := NewSegment(0, 2, Framed, FlagR|FlagW)
	seg.Map(as.PT, fa)
	as.insert(seg)

	data := []byte("hello, kernel")
	if err := as.CopyOut(mem.VA(10), data); err != 0 {
		t.Fatalf("unexpected error %v", err)
	}
	got, err := as.CopyIn(mem.VA(10), len(data))
	if err != 0 {
		t.Fatalf("unexpected error %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("expected %q, got %q", data, got)
	}
}

func TestCopyInCStringStopsAtNUL(t *testing.T) {
	as, fa := freshAS(64)
	seg := NewSegment(0, 1, Framed, FlagR|FlagW)
	seg.Map(as.PT, fa)
	as.insert(seg)
	as.CopyOut(mem.VA(0), []byte("hi\x00garbage"))

	s, err := as.CopyInCString(mem.VA(0), 64)
	if err != 0 {
		t.Fatalf("unexpected error %v", err)
	}
	if s != "hi" {
		t.Fatalf("expected %q, got %q", "hi", s)
	}
}

func TestCopyInUnmappedIsEFAULT(t *testing.T) {
	as, _ := freshAS(64)
	if _, err := as.CopyIn(mem.VA(0x77770000), 4); err == 0 {
		t.Fatal("expected EFAULT for an unmapped address")
	}
}
