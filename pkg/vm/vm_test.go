package vm

import (
	"errors"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func encodeStd(op, a, b, c uint32) Word {
	var out Word
	out |= op << 28
	out |= (a & 0b111) << 6
	out |= (b & 0b111) << 3
	out |= c & 0b111
	return out
}

func encodeLV(a, value uint32) Word {
	var out Word
	out |= OpLV << 28
	out |= (a & 0b111) << 25
	out |= value & 0x1FFFFFF
	return out
}

func TestDecodeStdRoundTrip(t *testing.T) {
	for op := uint32(0); op <= 12; op++ {
		for a := uint32(0); a < 8; a++ {
			for b := uint32(0); b < 8; b++ {
				for c := uint32(0); c < 8; c++ {
					ci := encodeStd(op, a, b, c)
					gotOp := DecodeOpcode(ci)
					gotA, gotB, gotC := DecodeStd(ci)
					assert(t, gotOp == op && gotA == a && gotB == b && gotC == c,
						"round trip mismatch for op=%d a=%d b=%d c=%d: got op=%d a=%d b=%d c=%d",
						op, a, b, c, gotOp, gotA, gotB, gotC)
				}
			}
		}
	}
}

func TestDecodeLVRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x1FFFFFF, 0xABCDEF, 1 << 24}
	for a := uint32(0); a < 8; a++ {
		for _, v := range values {
			ci := encodeLV(a, v)
			gotOp := DecodeOpcode(ci)
			gotA, gotV := DecodeLV(ci)
			assert(t, gotOp == OpLV && gotA == a && gotV == v,
				"LV round trip mismatch for a=%d v=%d: got op=%d a=%d v=%d", a, v, gotOp, gotA, gotV)
		}
	}
}

func TestEncodeLVMasksNotWraps(t *testing.T) {
	ci := encodeLV(0, 0xFFFFFFFF)
	if ci&0x1FFFFFF != 0x1FFFFFF {
		t.Fatalf("expected mask truncation, got %#x", ci&0x1FFFFFF)
	}
}

func TestAddWraps(t *testing.T) {
	m := New()
	m.Regs[1] = 0xFFFFFFFF
	m.Regs[2] = 2
	if err := m.Execute(encodeStd(OpADD, 3, 1, 2)); err != nil {
		t.Fatal(err)
	}
	assert(t, m.Regs[3] == 1, "expected wraparound to 1, got %d", m.Regs[3])
}

func TestMulWraps(t *testing.T) {
	m := New()
	m.Regs[1] = 0x10000
	m.Regs[2] = 0x10000
	if err := m.Execute(encodeStd(OpMUL, 3, 1, 2)); err != nil {
		t.Fatal(err)
	}
	assert(t, m.Regs[3] == 0, "expected 0x10000*0x10000 mod 2^32 == 0, got %d", m.Regs[3])
}

func TestNandIdentities(t *testing.T) {
	m := New()
	m.Regs[1] = 0xDEADBEEF
	if err := m.Execute(encodeStd(OpNAND, 2, 1, 1)); err != nil {
		t.Fatal(err)
	}
	assert(t, m.Regs[2] == ^m.Regs[1], "NAND(x,x) should equal NOT x")

	m.Regs[1], m.Regs[2] = 0xF0F0F0F0, 0x0F0F00FF
	if err := m.Execute(encodeStd(OpNAND, 3, 1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := m.Execute(encodeStd(OpNAND, 4, 3, 3)); err != nil {
		t.Fatal(err)
	}
	assert(t, m.Regs[4] == (m.Regs[1]&m.Regs[2]),
		"NAND(NAND(x,y),NAND(x,y)) should equal x AND y")
}

func TestCmovNoopWhenCZero(t *testing.T) {
	m := New()
	m.Regs[0], m.Regs[1], m.Regs[2] = 111, 222, 0
	if err := m.Execute(encodeStd(OpCMOV, 0, 1, 2)); err != nil {
		t.Fatal(err)
	}
	assert(t, m.Regs[0] == 111, "CMOV with r[C]=0 must leave r[A] unchanged, got %d", m.Regs[0])
}

func TestMapUnmapLIFOReuse(t *testing.T) {
	m := New()
	id1, err := m.Mem.MapSegment(4)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, id1 != 0, "map must never return identifier 0")
	if err := m.Mem.UnmapSegment(id1); err != nil {
		t.Fatal(err)
	}
	id2, err := m.Mem.MapSegment(8)
	if err != nil {
		t.Fatal(err)
	}
	assert(t, id2 == id1, "expected LIFO reuse of id %d, got %d", id1, id2)
}

func TestReadAfterMapIsZero(t *testing.T) {
	m := New()
	id, err := m.Mem.MapSegment(4)
	if err != nil {
		t.Fatal(err)
	}
	for off := Word(0); off < 4; off++ {
		v, err := m.Mem.Read(id, off)
		if err != nil {
			t.Fatal(err)
		}
		assert(t, v == 0, "expected zero-filled segment at offset %d, got %d", off, v)
	}
}

func TestUnmapThenReadIsFatal(t *testing.T) {
	m := New()
	id, _ := m.Mem.MapSegment(1)
	if err := m.Mem.UnmapSegment(id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Mem.Read(id, 0); !errors.Is(err, ErrUnmappedSegment) {
		t.Fatalf("expected ErrUnmappedSegment, got %v", err)
	}
}

func TestUnmapProgramSegmentIsFatal(t *testing.T) {
	m := New()
	if err := m.Mem.UnmapSegment(0); !errors.Is(err, ErrUnmapProgramSegment) {
		t.Fatalf("expected ErrUnmapProgramSegment, got %v", err)
	}
}

func TestDivByZeroIsFatal(t *testing.T) {
	m := New()
	m.Regs[1], m.Regs[2] = 10, 0
	err := m.Execute(encodeStd(OpDIV, 3, 1, 2))
	if !errors.Is(err, ErrFault) {
		t.Fatalf("expected ErrFault, got %v", err)
	}
}

func TestLoadProgramRejectsShortTrailer(t *testing.T) {
	m := New()
	err := m.LoadProgram([]byte{0x00, 0x00, 0x00})
	if !errors.Is(err, ErrMalformedProgram) {
		t.Fatalf("expected ErrMalformedProgram, got %v", err)
	}
}

func TestHaltViaOpcode(t *testing.T) {
	m := New()
	err := m.LoadProgram([]byte{0x70, 0, 0, 0}) // opcode 7 (HALT) in top 4 bits
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Run(); err != nil {
		t.Fatalf("expected clean halt, got %v", err)
	}
}

func TestHaltViaProgramExhaustion(t *testing.T) {
	m := New()
	if err := m.LoadProgram(nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Run(); err != nil {
		t.Fatalf("expected clean halt on empty program, got %v", err)
	}
}

type fakeIn struct {
	bytes []byte
	pos   int
}

func (f *fakeIn) ReadByte() (byte, bool, error) {
	if f.pos >= len(f.bytes) {
		return 0, false, nil
	}
	b := f.bytes[f.pos]
	f.pos++
	return b, true, nil
}

type fakeOut struct {
	bytes []byte
}

func (f *fakeOut) WriteByte(b byte) error {
	f.bytes = append(f.bytes, b)
	return nil
}

func TestEOFSentinel(t *testing.T) {
	m := New()
	m.In = &fakeIn{}
	if err := m.Execute(encodeStd(OpIN, 0, 0, 1)); err != nil {
		t.Fatal(err)
	}
	assert(t, m.Regs[1] == 0xFFFFFFFF, "expected EOF sentinel, got %#x", m.Regs[1])

	out := &fakeOut{}
	m.Out = out
	if err := m.Execute(encodeStd(OpOUT, 0, 0, 1)); err != nil {
		t.Fatal(err)
	}
	assert(t, len(out.bytes) == 1 && out.bytes[0] == 0xFF,
		"expected single 0xFF byte out, got %v", out.bytes)
}

// TestImmediateOutput runs r1 := 65; out r1; halt end to end and
// checks that it emits the byte 'A'.
func TestImmediateOutput(t *testing.T) {
	m := New()
	prog := []Word{
		encodeLV(1, 65),
		encodeStd(OpOUT, 0, 0, 1),
		encodeStd(OpHALT, 0, 0, 0),
	}
	loadWords(t, m, prog)
	out := &fakeOut{}
	m.Out = out
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	assert(t, len(out.bytes) == 1 && out.bytes[0] == 'A', "expected 'A', got %v", out.bytes)
}

// TestSegmentLifecycleScenario maps a segment, stores a word into it,
// loads it back out, and outputs it, end to end.
func TestSegmentLifecycleScenario(t *testing.T) {
	m := New()
	prog := []Word{
		encodeLV(1, 4),
		encodeStd(OpMAP, 0, 2, 1),
		encodeLV(3, 7),
		encodeLV(4, 0),
		encodeStd(OpSSTORE, 2, 4, 3),
		encodeStd(OpSLOAD, 5, 2, 4),
		encodeStd(OpOUT, 0, 0, 5),
		encodeStd(OpHALT, 0, 0, 0),
	}
	loadWords(t, m, prog)
	out := &fakeOut{}
	m.Out = out
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	assert(t, len(out.bytes) == 1 && out.bytes[0] == 7, "expected byte 7, got %v", out.bytes)
}

// TestLoadPFastPath checks that a LOADP with r[B]=0 only assigns PC,
// performing no segment copy.
func TestLoadPFastPath(t *testing.T) {
	m := New()
	prog := []Word{
		encodeLV(5, 3), // r5 = target offset
		encodeStd(OpLOADP, 0, 0, 5),
		encodeStd(OpHALT, 0, 0, 0), // skipped
		encodeStd(OpHALT, 0, 0, 0), // jump target
	}
	loadWords(t, m, prog)
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	assert(t, m.Mem.segmentCount() == 1, "fast path must not allocate any segment")
}

// TestLoadPWithCopy checks that a LOADP whose r[B] names a freshly
// mapped segment containing a HALT at offset 0 halts immediately
// after the program swap.
func TestLoadPWithCopy(t *testing.T) {
	m := New()
	id, err := m.Mem.MapSegment(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Mem.Write(id, 0, encodeStd(OpHALT, 0, 0, 0)); err != nil {
		t.Fatal(err)
	}
	prog := []Word{
		encodeLV(2, id),
		encodeLV(5, 0),
		encodeStd(OpLOADP, 0, 2, 5),
		encodeStd(OpHALT, 0, 0, 0), // must never execute: program was replaced
	}
	loadWords(t, m, prog)
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	assert(t, m.Mem.segmentCount() == 2, "expected the mapped segment to still exist")
}

func loadWords(t *testing.T, m *VM, words []Word) {
	t.Helper()
	bytes := make([]byte, 0, len(words)*4)
	for _, w := range words {
		bytes = append(bytes, byte(w>>24), byte(w>>16), byte(w>>8), byte(w))
	}
	if err := m.LoadProgram(bytes); err != nil {
		t.Fatal(err)
	}
}
