package asm

import (
	"strings"

	"github.com/pkg/errors"
)

// binops lists the binary arithmetic operator substrings in the exact
// order they must be tried: "+" before "*" before "/" before "nand".
// The order matters because matching is by first-occurrence substring
// search, not tokenization; an expression would resolve to the wrong
// operator if these were tried in a different order.
var binops = []struct {
	expr string
	op   uint32
}{
	{"+", OpADD},
	{"*", OpMUL},
	{"/", OpDIV},
	{"nand", OpNAND},
}

// unops lists the unary mnemonics in the order they must be tried:
// "unmap" before anything, because "map" is itself a substring of
// "unmap" and would otherwise misfire if we matched it first.
var unops = []struct {
	expr string
	op   uint32
}{
	{"unmap", OpUNMAP},
	{"out", OpOUT},
	{"in", OpIN},
}

// ParseLine parses one line of assembly source into an encoded
// instruction word. Grammar forms are tried in a fixed order and the
// first one that matches wins.
func ParseLine(line string) (uint32, error) {
	stripped := stripWhitespace(line)
	if idx := firstIndex(stripped, ":="); idx >= 0 {
		left, right := stripped[:idx], stripped[idx+2:]
		return parseAssignment(left, right)
	}
	return parseUnaryOrControl(stripped)
}

// stripWhitespace removes every space/tab character from the line,
// mirroring the reference implementation's line.trim().replace(" ", "").
// The grammar is whitespace-insensitive within a line, so this is safe:
// no token in the grammar contains a space.
func stripWhitespace(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	for _, r := range line {
		if r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseAssignment(left, right string) (uint32, error) {
	if hasPrefix(left, "m[") {
		segReg, offReg, err := parseMemory(left)
		if err != nil {
			return 0, err
		}
		valReg, err := parseReg(right)
		if err != nil {
			return 0, err
		}
		return encodeStd(OpSSTORE, segReg, offReg, valReg), nil
	}

	lreg, err := parseReg(left)
	if err != nil {
		return 0, errors.Wrapf(ErrParse, "left side of := must be a register or memory reference: %s", err)
	}

	// binary arithmetic: rA := rB op rC, tried in binops order.
	for _, b := range binops {
		if bin1, bin2, ok := cut(right, b.expr); ok {
			rb, err := parseReg(bin1)
			if err != nil {
				continue
			}
			rc, err := parseReg(bin2)
			if err != nil {
				continue
			}
			return encodeStd(b.op, lreg, rb, rc), nil
		}
	}

	// segmented load: rA := m[rB][rC]
	if hasPrefix(right, "m[") {
		segReg, offReg, err := parseMemory(right)
		if err == nil {
			return encodeStd(OpSLOAD, lreg, segReg, offReg), nil
		}
	}

	// conditional move: rA := rB if rC
	if src, test, ok := cut(right, "if"); ok {
		rb, errB := parseReg(src)
		rc, errC := parseReg(test)
		if errB == nil && errC == nil {
			return encodeStd(OpCMOV, lreg, rb, rc), nil
		}
	}

	// map: rA := map rC
	if hasPrefix(right, "map") {
		if rc, err := parseReg(right[len("map"):]); err == nil {
			return encodeStd(OpMAP, 0, lreg, rc), nil
		}
	}

	// load value: rA := <literal>
	if v, err := parseLiteral(right); err == nil {
		return encodeLV(lreg, v), nil
	}

	return 0, errors.Wrapf(ErrParse, "no grammar form matched right-hand side %q", right)
}

func parseUnaryOrControl(line string) (uint32, error) {
	for _, u := range unops {
		if hasPrefix(line, u.expr) {
			rc, err := parseReg(line[len(u.expr):])
			if err != nil {
				continue
			}
			return encodeStd(u.op, 0, 0, rc), nil
		}
	}

	if hasPrefix(line, "goto") {
		segReg, offReg, err := parseMemory(line[len("goto"):])
		if err == nil {
			return encodeStd(OpLOADP, 0, segReg, offReg), nil
		}
	}

	if line == "halt" {
		return encodeStd(OpHALT, 0, 0, 0), nil
	}

	return 0, errors.Wrapf(ErrParse, "unrecognized instruction: %q", line)
}
