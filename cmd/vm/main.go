// Command vm runs a compiled UM32 binary program.
//
// Usage: vm [-v] <program.umb>
//
// vm takes exactly one positional argument: the path to a binary
// program file. Any other arity is an error.
package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/kr/pretty"
	"github.com/mewkiz/pkg/term"

	"github.com/bassosimone/um32/pkg/vm"
)

var dbg = log.New(os.Stderr, term.MagentaBold("vm:")+" ", 0)

func main() {
	log.SetFlags(0)
	verbose := flag.Bool("v", false, "be verbose")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatalf("usage: %s [-v] <program.umb>", os.Args[0])
	}
	filename := flag.Arg(0)
	bytes, err := os.ReadFile(filename)
	if err != nil {
		log.Fatal(err)
	}
	machine := vm.New()
	if err := machine.LoadProgram(bytes); err != nil {
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
