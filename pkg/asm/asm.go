package asm

import (
	"bufio"
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Result is either a successfully encoded instruction word or a
// parse error, tagged with the source line number it came from.
type Result struct {
	Word   uint32
	Lineno int
	Err    error
}

// StartAssembler starts the assembler in a background goroutine and
// returns a channel of Result values, one per non-blank,
// non-comment source line, in source order. The producer goroutine
// stops and closes the channel as soon as it emits an error, aborting
// assembly, so callers need not drain the channel after observing the
// first error.
func StartAssembler(r io.Reader) <-chan Result {
	out := make(chan Result)
	go assemblerAsync(r, out)
	return out
}

func assemblerAsync(r io.Reader, out chan<- Result) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := stripComment(scanner.Text())
		if strings.TrimSpace(line) == "" {
			// Blank lines and comment-only lines are not part of
			// the instruction grammar; this assembler accepts them
			// rather than treating them as a parse error.
			continue
		}
		word, err := ParseLine(line)
		if err != nil {
			out <- Result{Lineno: lineno, Err: errors.Wrapf(err, "line %d", lineno)}
			return
		}
		out <- Result{Word: word, Lineno: lineno}
	}
	if err := scanner.Err(); err != nil {
		out <- Result{Err: err}
	}
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// Assemble reads every instruction from r and returns the resulting
// words in source order. It aborts and returns the first parse error
// encountered, wrapped with its line number.
func Assemble(r io.Reader) ([]uint32, error) {
	var words []uint32
	for res := range StartAssembler(r) {
		if res.Err != nil {
			return nil, res.Err
		}
		words = append(words, res.Word)
	}
	return words, nil
}

// EncodeWords serializes words as the concatenation of their
// big-endian four-byte representations, in order.
func EncodeWords(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(out[i*4:], w)
	}
	return out
}
