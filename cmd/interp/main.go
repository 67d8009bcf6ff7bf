// Command interp assembles a UM32 source file and runs it directly,
// skipping the intermediate binary file: a convenience entry point
// pairing the assembler and VM for quick iteration, the same role
// github.com/bassosimone/risc32's own cmd/interp plays for its ISA.
package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/kr/pretty"
	"github.com/mewkiz/pkg/term"

	"github.com/bassosimone/um32/pkg/asm"
	"github.com/bassosimone/um32/pkg/vm"
)

var dbg = log.New(os.Stderr, term.MagentaBold("interp:")+" ", 0)

func main() {
	log.SetFlags(0)
	verbose := flag.Bool("v", false, "be verbose")
	filename := flag.String("f", "", "assembly source file to run")
	flag.Parse()
	if *filename == "" {
		log.Fatal("usage: interp [-v] -f <assembly-source-file>")
	}

	fp, err := os.Open(*filename)
	if err != nil {
		log.Fatal(err)
	}
	defer fp.Close()

	words, err := asm.Assemble(fp)
	if err != nil {
		log.Fatal(err)
	}

	machine := vm.New()
	if err := machine.LoadProgram(asm.EncodeWords(words)); err != nil {
		log.Fatal(err)
	}
	machine.In = vm.NewStdInPort(os.Stdin)
	machine.Out = vm.NewStdOutPort(os.Stdout)

	for {
		ci, halted, err := machine.Fetch()
		if err != nil {
			log.Fatal(err)
		}
		if halted {
			break
		}
		if *verbose {
			dbg.Printf("%# v", pretty.Formatter(machine))
			dbg.Printf("%#032b %s", ci, vm.Disassemble(ci))
		}
		if err := machine.Execute(ci); err != nil {
			if errors.Is(err, vm.ErrHalted) {
				break
			}
			log.Fatal(err)
		}
	}
}
