// Package vm contains the UM32 virtual machine.
//
// The architecture implemented here is the "Universal Machine": a
// register-poor, segment-addressed architecture historically used as
// the target of the ICFP 2006 programming contest. It is a much
// simpler machine than RiSC-32 (see github.com/bassosimone/risc32,
// whose cmd/pkg layout this repository follows): eight general
// purpose registers, no status registers, no paging, and a single
// instruction word shape that switches between a three-register form
// and a load-immediate form based on the opcode.
//
// Instruction format
//
// Each instruction is 32 bits wide. We have two instruction formats:
//
// 1. Standard (opcodes 0-12): <Opcode:4><Unused:19><RegA:3><RegB:3><RegC:3>
// 2. Load-value (opcode 13): <Opcode:4><RegA:3><Immediate:25>
//
// The following is the standard format:
//
//	<Opcode:4><Reserved:19><RegisterA:3><RegisterB:3><RegisterC:3>
//
// The following is the load-value format:
//
//	<Opcode:4><RegisterA:3><Immediate:25>
//
// Bytecode format
//
// A program is a sequence of 32-bit words serialized big-endian, one
// after another, with no header and no footer. The file length must
// be a multiple of four bytes.
//
// Instruction set
//
// This VM implements the fourteen UM32 opcodes: CMOV, SLOAD, SSTORE,
// ADD, MUL, DIV, NAND, HALT, MAP, UNMAP, OUT, IN, LOADP, LV. See the
// opcode constants below and Execute for their semantics.
//
// Segmented memory
//
// Unlike RiSC-32's flat array, this VM addresses memory through a
// table of independently sized segments (see Memory). Segment zero
// always holds the running program; SLOAD/SSTORE/LOADP name other
// segments by an identifier returned from MAP.
package vm

import (
	"fmt"

	"github.com/kr/pretty"
	"github.com/pkg/errors"
)

// Word is the VM's native 32-bit unsigned word.
type Word = uint32

// The following constants define the fourteen opcodes. The top four
// bits of every instruction word select one of these.
const (
	OpCMOV = uint32(iota)
	OpSLOAD
	OpSSTORE
	OpADD
	OpMUL
	OpDIV
	OpNAND
	OpHALT
	OpMAP
	OpUNMAP
	OpOUT
	OpIN
	OpLOADP
	OpLV
)

const (
	// NumRegisters is the number of general purpose registers.
	NumRegisters = 8

	// FreeListCapacity is the amount of free-list capacity the
	// memory table preallocates, mirroring the reference
	// implementation's Vec::with_capacity(1 << 16).
	FreeListCapacity = 1 << 16
)

// The following errors may be returned by Execute and LoadProgram.
// Every fatal execution condition wraps ErrFault, so that callers can
// use errors.Is(err, vm.ErrFault) uniformly while still checking for
// the more specific sentinel.
var (
	// ErrHalted indicates a clean HALT. It is not a fault: callers
	// should stop executing and exit cleanly. A PC past the end of
	// segment zero is reported by Fetch's halted result instead.
	ErrHalted = errors.New("vm: halted")

	// ErrFault is the sentinel every fatal execution error wraps.
	// Every Err* sentinel below chains to it at definition time, so
	// errors.Is(err, ErrFault) is true for any fatal condition
	// regardless of which specific sentinel a caller also checks for.
	ErrFault = errors.New("vm: fault")

	// ErrInvalidOpcode indicates an opcode value outside 0..13.
	ErrInvalidOpcode = errors.Wrap(ErrFault, "invalid opcode")

	// ErrDivByZero indicates a DIV with a zero divisor.
	ErrDivByZero = errors.Wrap(ErrFault, "division by zero")

	// ErrUnmappedSegment indicates access to a segment identifier
	// whose slot is not currently live.
	ErrUnmappedSegment = errors.Wrap(ErrFault, "unmapped segment")

	// ErrOutOfBounds indicates an offset at or beyond a segment's
	// length.
	ErrOutOfBounds = errors.Wrap(ErrFault, "offset out of bounds")

	// ErrUnmapProgramSegment indicates an attempt to unmap
	// identifier 0.
	ErrUnmapProgramSegment = errors.Wrap(ErrFault, "cannot unmap program segment")

	// ErrMalformedProgram indicates a program byte stream whose
	// length is not a multiple of four.
	ErrMalformedProgram = errors.Wrap(ErrFault, "program length not a multiple of 4")
)

// InPort is a blocking single-byte input source. EOF is reported via
// the io.EOF-compatible ok=false return rather than an error, since
// running out of input is a normal runtime condition, not a fault.
type InPort interface {
	ReadByte() (b byte, ok bool, err error)
}

// OutPort is a single-byte output sink.
type OutPort interface {
	WriteByte(b byte) error
}

// VM is a virtual machine instance. It is not goroutine safe; a
// single goroutine must drive Run (or Fetch/Execute).
type VM struct {
	// Regs holds the eight general purpose registers r0..r7.
	Regs [NumRegisters]Word

	// PC is the program counter: an offset into segment zero.
	PC uint32

	// Mem is the segmented memory table.
	Mem Memory

	// In is the blocking byte source consulted by the IN opcode.
	// A nil In always reports EOF.
	In InPort

	// Out is the byte sink written to by the OUT opcode. A nil
	// Out discards output.
	Out OutPort
}

// New constructs a VM with a zeroed register file, PC at zero, and an
// empty (but present) program segment at identifier 0.
func New() *VM {
	m := &VM{}
	m.Mem.init()
	return m
}

// LoadProgram installs bytes as segment 0, interpreting every
// four-byte group as a big-endian word. len(bytes) must be a multiple
// of four; otherwise LoadProgram returns ErrMalformedProgram.
func (m *VM) LoadProgram(bytes []byte) error {
	if len(bytes)%4 != 0 {
		return errors.Wrapf(ErrMalformedProgram, "got %d bytes", len(bytes))
	}
	words := make([]Word, len(bytes)/4)
	for i := range words {
		off := i * 4
		words[i] = uint32(bytes[off])<<24 | uint32(bytes[off+1])<<16 |
			uint32(bytes[off+2])<<8 | uint32(bytes[off+3])
	}
	m.Mem.installProgram(words)
	m.PC = 0
	return nil
}

// Run drives the fetch-decode-execute loop to completion. It returns
// nil on a clean halt (HALT or PC past the end of segment zero) and a
// non-nil, ErrFault-wrapped error on any fatal condition.
func (m *VM) Run() error {
	for {
		ci, halted, err := m.Fetch()
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
		if err := m.Execute(ci); err != nil {
			if errors.Is(err, ErrHalted) {
				return nil
			}
			return err
		}
	}
}

// Fetch returns the instruction word at the current PC and advances
// PC by one before the instruction executes, so LOADP can still
// overwrite PC afterward. If PC is at or past the length of segment
// zero, Fetch reports halted=true instead of an error: this is normal
// termination, not a fault.
func (m *VM) Fetch() (ci Word, halted bool, err error) {
	prog := m.Mem.program()
	if int(m.PC) >= len(prog) {
		return 0, true, nil
	}
	ci = prog[m.PC]
	m.PC++
	return ci, false, nil
}

// DecodeOpcode extracts the 4-bit opcode from bits 28-31.
func DecodeOpcode(ci Word) uint32 { return ci >> 28 }

// DecodeStd extracts the three 3-bit register fields of the standard
// instruction shape.
func DecodeStd(ci Word) (a, b, c uint32) {
	a = (ci >> 6) & 0b111
	b = (ci >> 3) & 0b111
	c = ci & 0b111
	return
}

// DecodeLV extracts the register and 25-bit immediate of the
// load-value instruction shape.
func DecodeLV(ci Word) (a uint32, value Word) {
	a = (ci >> 25) & 0b111
	value = ci & 0x1FFFFFF
	return
}

// Execute decodes and runs a single instruction word. It returns
// ErrHalted on HALT (a sentinel, not a fault: callers should stop),
// and an ErrFault-wrapped error for any invalid opcode, out-of-bounds
// access, unmapped segment reference, or division by zero.
func (m *VM) Execute(ci Word) error {
	op := DecodeOpcode(ci)
	if op == OpLV {
		a, value := DecodeLV(ci)
		m.Regs[a] = value
		return nil
	}
	a, b, c := DecodeStd(ci)
	switch op {
	case OpCMOV:
		if m.Regs[c] != 0 {
			m.Regs[a] = m.Regs[b]
		}
	case OpSLOAD:
		v, err := m.Mem.Read(m.Regs[b], m.Regs[c])
		if err != nil {
			return errors.Wrapf(err, "sload m[%d][%d]", m.Regs[b], m.Regs[c])
		}
		m.Regs[a] = v
	case OpSSTORE:
		if err := m.Mem.Write(m.Regs[a], m.Regs[b], m.Regs[c]); err != nil {
			return errors.Wrapf(err, "sstore m[%d][%d]", m.Regs[a], m.Regs[b])
		}
	case OpADD:
		m.Regs[a] = m.Regs[b] + m.Regs[c]
	case OpMUL:
		m.Regs[a] = m.Regs[b] * m.Regs[c]
	case OpDIV:
		if m.Regs[c] == 0 {
			return errors.Wrapf(ErrDivByZero, "r%d is zero", c)
		}
		m.Regs[a] = m.Regs[b] / m.Regs[c]
	case OpNAND:
		m.Regs[a] = ^(m.Regs[b] & m.Regs[c])
	case OpHALT:
		return ErrHalted
	case OpMAP:
		id, err := m.Mem.MapSegment(m.Regs[c])
		if err != nil {
			return errors.Wrapf(err, "map size=%d", m.Regs[c])
		}
		m.Regs[b] = id
	case OpUNMAP:
		if err := m.Mem.UnmapSegment(m.Regs[c]); err != nil {
			return errors.Wrapf(err, "unmap id=%d", m.Regs[c])
		}
	case OpOUT:
		if m.Out != nil {
			if err := m.Out.WriteByte(byte(m.Regs[c])); err != nil {
				return errors.Wrapf(ErrFault, "out: %s", err)
			}
		}
	case OpIN:
		if m.In == nil {
			m.Regs[c] = 0xFFFFFFFF
			break
		}
		inByte, ok, err := m.In.ReadByte()
		if err != nil {
			return errors.Wrapf(ErrFault, "in: %s", err)
		}
		if !ok {
			m.Regs[c] = 0xFFFFFFFF
		} else {
			m.Regs[c] = uint32(inByte)
		}
	case OpLOADP:
		if m.Regs[b] != 0 {
			if err := m.Mem.CloneIntoProgram(m.Regs[b]); err != nil {
				return errors.Wrapf(err, "loadp id=%d", m.Regs[b])
			}
		}
		m.PC = m.Regs[c]
	default:
		return errors.Wrapf(ErrInvalidOpcode, "opcode %d", op)
	}
	return nil
}

// String renders the VM's PC, its register file (formatted through
// kr/pretty) and the number of segment slots in the memory table.
// Segment contents are not printed.
func (m *VM) String() string {
	return fmt.Sprintf("{PC:%d Regs:%# v Segments:%d}",
		m.PC, pretty.Formatter(m.Regs), m.Mem.segmentCount())
}

// Disassemble disassembles a single instruction word into the
// mnemonic syntax accepted by pkg/asm.
func Disassemble(ci Word) string {
	op := DecodeOpcode(ci)
	if op == OpLV {
		a, value := DecodeLV(ci)
		return fmt.Sprintf("r%d := %d", a, value)
	}
	a, b, c := DecodeStd(ci)
	switch op {
	case OpCMOV:
		return fmt.Sprintf("r%d := r%d if r%d", a, b, c)
	case OpSLOAD:
		return fmt.Sprintf("r%d := m[r%d][r%d]", a, b, c)
	case OpSSTORE:
		return fmt.Sprintf("m[r%d][r%d] := r%d", a, b, c)
	case OpADD:
		return fmt.Sprintf("r%d := r%d + r%d", a, b, c)
	case OpMUL:
		return fmt.Sprintf("r%d := r%d * r%d", a, b, c)
	case OpDIV:
		return fmt.Sprintf("r%d := r%d / r%d", a, b, c)
	case OpNAND:
		return fmt.Sprintf("r%d := r%d nand r%d", a, b, c)
	case OpHALT:
		return "halt"
	case OpMAP:
		return fmt.Sprintf("r%d := map r%d", b, c)
	case OpUNMAP:
		return fmt.Sprintf("unmap r%d", c)
	case OpOUT:
		return fmt.Sprintf("out r%d", c)
	case OpIN:
		return fmt.Sprintf("in r%d", c)
	case OpLOADP:
		return fmt.Sprintf("goto m[r%d][r%d]", b, c)
	default:
		return fmt.Sprintf("<invalid opcode %d: 0x%08x>", op, ci)
	}
}
