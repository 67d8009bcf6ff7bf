// Package asm contains the UM32 assembler: a one-pass compiler from
// an assignment-style mnemonic syntax into the VM's 32-bit instruction
// words.
//
// See the documentation of the vm package for the instruction set and
// bytecode format this package targets. The only coupling between the
// two packages is the bit layout below, which is why this package
// redefines its own opcode constants rather than importing them
// from pkg/vm, mirroring the separation github.com/bassosimone/risc32
// keeps between its own pkg/asm and pkg/vm opcode tables.
package asm

import (
	"strconv"

	"github.com/pkg/errors"
)

// TODO(bassosimone): maybe create package pkg/spec where we can
// store the constants defining the ISA?

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

// The following errors may be returned while parsing or encoding.
var (
	// ErrParse indicates a line that does not match any grammar form
	// this package recognizes.
	ErrParse = errors.New("asm: parse error")

	// ErrOutOfRange indicates a literal or register index that
	// does not fit the field it was parsed for (currently only
	// raised for malformed digit sequences; register indices and
	// literal magnitudes are otherwise silently truncated rather
	// than rejected).
	ErrOutOfRange = errors.New("asm: value out of range")
)

// encodeStd builds a standard-shape instruction word: opcode in bits
// 28-31, register A in bits 6-8, register B in bits 3-5, register C
// in bits 0-2. Register values are masked to 3 bits, silently
// truncating indices outside 0..7.
func encodeStd(op, a, b, c uint32) uint32 {
	var out uint32
	out |= (op & 0b1111) << 28
	out |= (a & 0b111) << 6
	out |= (b & 0b111) << 3
	out |= c & 0b111
	return out
}

// encodeLV builds a load-value instruction word: opcode in bits
// 28-31, register A in bits 25-27, a 25-bit immediate in bits 0-24.
// The immediate is masked, not wrapped: values at or above 2^25 have
// their high bits discarded rather than being reduced modulo 2^25.
func encodeLV(a uint32, value uint64) uint32 {
	var out uint32
	out |= (OpLV & 0b1111) << 28
	out |= (a & 0b111) << 25
	out |= uint32(value) & 0x1FFFFFF
	return out
}

// parseReg parses a register reference of the form "r" followed by
// decimal digits. It does not bound-check the result against 0..7: a
// reference like "r99" parses successfully and is later silently
// truncated to 3 bits when encoded. The assembler deliberately does
// not reject out-of-range register indices.
func parseReg(s string) (uint32, error) {
	if len(s) == 0 || s[0] != 'r' {
		return 0, errors.Wrapf(ErrParse, "not a register reference: %q", s)
	}
	digits := s[1:]
	if len(digits) == 0 {
		return 0, errors.Wrapf(ErrParse, "empty register index: %q", s)
	}
	v, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrOutOfRange, "malformed register index %q: %s", s, err)
	}
	return uint32(v), nil
}

// parseMemory parses a memory reference of the form "m[rX][rY]" and
// returns the two register indices (segment id register, offset
// register).
func parseMemory(s string) (segReg, offReg uint32, err error) {
	if len(s) < 2 || s[0:2] != "m[" || s[len(s)-1] != ']' {
		return 0, 0, errors.Wrapf(ErrParse, "not a memory reference: %q", s)
	}
	inner := s[2 : len(s)-1]
	left, right, ok := cut(inner, "][")
	if !ok {
		return 0, 0, errors.Wrapf(ErrParse, "malformed memory reference: %q", s)
	}
	segReg, err = parseReg(left)
	if err != nil {
		return 0, 0, err
	}
	offReg, err = parseReg(right)
	if err != nil {
		return 0, 0, err
	}
	return segReg, offReg, nil
}

// parseLiteral parses a numeric literal: "0x" selects hexadecimal,
// "0b" selects binary, anything else is parsed as decimal. The
// result is masked to 25 bits at encode time, not here: this function
// may return a value that does not fit in 25 bits, and the caller is
// responsible for truncating it.
func parseLiteral(s string) (uint64, error) {
	switch {
	case hasPrefix(s, "0x"):
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrOutOfRange, "malformed hex literal %q: %s", s, err)
		}
		return v, nil
	case hasPrefix(s, "0b"):
		v, err := strconv.ParseUint(s[2:], 2, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrOutOfRange, "malformed binary literal %q: %s", s, err)
		}
		return v, nil
	default:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrOutOfRange, "malformed decimal literal %q: %s", s, err)
		}
		return v, nil
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// cut splits s at the first occurrence of sep, mirroring
// strings.Cut's (before, after, found) shape. It is defined here
// rather than imported so this file's behavior does not silently
// change across Go versions that alter strings.Cut's semantics.
func cut(s, sep string) (before, after string, found bool) {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return s[:i], s[i+len(sep):], true
		}
	}
	return s, "", false
}

// firstIndex returns the index of the first occurrence of the whole
// substring sub within s, or -1. ParseLine uses it to locate ":=".
func firstIndex(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
