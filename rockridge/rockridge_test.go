package rockridge

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestPXEncodesBothEndianFields(t *testing.T) {
	b := PX(PosixAttrs{Mode: 0100644, Links: 1, UID: 1000, GID: 1000, SerialNo: 0})
	if string(b[0:2]) != "PX" {
		t.Fatalf("missing PX signature")
	}
	if b[2] != 44 {
		t.Fatalf("length = %d, want 44", b[2])
	}
	mode := binary.LittleEndian.Uint32(b[4:8])
	if mode != 0100644 {
		t.Fatalf("mode = %o, want 0100644", mode)
	}
	modeBE := binary.BigEndian.Uint32(b[8:12])
	if modeBE != 0100644 {
		t.Fatalf("mode big-endian half = %o, want 0100644", modeBE)
	}
}

func TestNMSplitsLongNames(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	entries := NM(string(long))
	if len(entries) < 3 {
		t.Fatalf("expected at least 3 NM entries for 600-byte name, got %d", len(entries))
	}
	for _, e := range entries[:len(entries)-1] {
		if e[4]&nmContinue == 0 {
			t.Fatalf("non-final NM entry missing continue flag")
		}
	}
	last := entries[len(entries)-1]
	if last[4]&nmContinue != 0 {
		t.Fatalf("final NM entry should not set continue flag")
	}
}

func TestSLEncodesRootAndNamedComponents(t *testing.T) {
	entries := SL("/usr/bin/sh")
	if len(entries) != 1 {
		t.Fatalf("expected a single SL entry for a short path, got %d", len(entries))
	}
	if string(entries[0][0:2]) != "SL" {
		t.Fatalf("missing SL signature")
	}
}

func TestCLAndPLRoundTripLBA(t *testing.T) {
	cl := CL(500)
	if got := binary.LittleEndian.Uint32(cl[4:8]); got != 500 {
		t.Fatalf("CL LBA = %d, want 500", got)
	}
	pl := PL(900)
	if got := binary.LittleEndian.Uint32(pl[4:8]); got != 900 {
		t.Fatalf("PL LBA = %d, want 900", got)
	}
}

func TestTFOmitsZeroTimestamps(t *testing.T) {
	mod := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b := TF(mod, time.Time{}, time.Time{})
	flags := b[4]
	if flags&tfModify == 0 {
		t.Fatalf("modify bit not set")
	}
	if flags&tfAccess != 0 || flags&tfCreation != 0 {
		t.Fatalf("zero timestamps should not set their bits")
	}
	if len(b) != 4+1+7 {
		t.Fatalf("TF entry length = %d, want 12 for a single timestamp", len(b))
	}
}

func TestPackWithContinuationSplitsWhenOverflowing(t *testing.T) {
	var entries [][]byte
	for i := 0; i < 10; i++ {
		entries = append(entries, PX(PosixAttrs{Mode: 0100644, UID: uint32(i)}))
	}
	inline, cont := PackWithContinuation(entries, 80, 1000, 0)
	if len(cont) == 0 {
		t.Fatalf("expected overflow into a continuation block")
	}
	if len(inline) > 80 {
		t.Fatalf("inline part exceeds available space: %d > 80", len(inline))
	}
	tail := inline[len(inline)-28:]
	if string(tail[0:2]) != "CE" {
		t.Fatalf("inline part does not end in a CE entry")
	}
}

func TestPackWithContinuationFitsWithoutSplitting(t *testing.T) {
	entries := [][]byte{PX(PosixAttrs{Mode: 0100644})}
	inline, cont := PackWithContinuation(entries, 200, 0, 0)
	if cont != nil {
		t.Fatalf("expected no continuation when everything fits")
	}
	if len(inline) != 44 {
		t.Fatalf("inline length = %d, want 44", len(inline))
	}
}
