// Command asm compiles UM32 assembly source files into binary
// program files.
//
// Usage: asm file1.um [file2.um ...]
//
// Each argument ending in the assembly extension (".um") produces a
// sibling binary file with the binary extension (".umb"), same
// basename. Arguments not ending in ".um" are skipped with a warning.
// Zero arguments is an error.
package main

import (
	"log"
	"os"
	"strings"

	"github.com/mewkiz/pkg/term"

	"github.com/bassosimone/um32/pkg/asm"
)

const (
	sourceExt = ".um"
	binaryExt = ".umb"
)

var dbg = log.New(os.Stderr, term.MagentaBold("asm:")+" ", 0)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s file.um [file2.um ...]", os.Args[0])
	}
	for _, filename := range os.Args[1:] {
		if !strings.HasSuffix(filename, sourceExt) {
			dbg.Printf("warning: skipping %s (not a %s file)", filename, sourceExt)
			continue
		}
		if err := assembleFile(filename); err != nil {
			log.Fatal(err)
		}
	}
}

func assembleFile(filename string) error {
	fp, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer fp.Close()

	words, err := asm.Assemble(fp)
	if err != nil {
		return err
	}

	outname := strings.TrimSuffix(filename, sourceExt) + binaryExt
	dbg.Printf("writing %s", outname)
	return os.WriteFile(outname, asm.EncodeWords(words), 0o644)
}
