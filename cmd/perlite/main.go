// Perlite CLI - the main entry point for running Perlite scripts
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/perlite-lang/perlite/cache"
	"github.com/perlite-lang/perlite/compiler"
	"github.com/perlite-lang/perlite/manifest"
	"github.com/perlite-lang/perlite/vm"
	"github.com/perlite-lang/perlite/vm/wire"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	expr := flag.String("e", "", "Evaluate the given source text instead of a file")
	dump := flag.Bool("dump", false, "Print disassembly instead of executing")
	check := flag.Bool("c", false, "Compile only, report syntax errors and exit")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	noCache := flag.Bool("no-cache", false, "Bypass the compiled-unit cache")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: perlite [options] [script.plt] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a Perlite script. Without a script, starts the REPL.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  perlite script.plt arg1 arg2   # Run a script\n")
		fmt.Fprintf(os.Stderr, "  perlite -e 'print \"hi\\n\";'     # Run a one-liner\n")
		fmt.Fprintf(os.Stderr, "  perlite -dump script.plt       # Show compiled bytecode\n")
		fmt.Fprintf(os.Stderr, "  perlite -c script.plt          # Syntax check only\n")
		fmt.Fprintf(os.Stderr, "  perlite -i                     # Start REPL\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	// A project manifest, when present, sets default pragmas and the
	// cache location for every script under it.
	mf, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "perlite: %v\n", err)
		os.Exit(2)
	}
	pragmas := vm.Pragmas{}
	if mf != nil {
		pragmas, err = mf.Pragmas()
		if err != nil {
			fmt.Fprintf(os.Stderr, "perlite: %v\n", err)
			os.Exit(2)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "using manifest in %s\n", mf.Dir)
		}
	}

	// Determine the source to run.
	var src, sourceName string
	scriptArgs := flag.Args()
	switch {
	case *interactive:
		runREPL(pragmas)
		return
	case *expr != "":
		src, sourceName = *expr, "-e"
	case len(scriptArgs) > 0:
		data, err := os.ReadFile(scriptArgs[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "perlite: cannot read %s: %v\n", scriptArgs[0], err)
			os.Exit(2)
		}
		src, sourceName = string(data), scriptArgs[0]
		scriptArgs = scriptArgs[1:]
	default:
		runREPL(pragmas)
		return
	}

	unit, err := compileCached(src, sourceName, pragmas, mf, *noCache, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	if *check {
		fmt.Fprintf(os.Stderr, "%s syntax OK\n", sourceName)
		return
	}
	if *dump {
		dumpUnit(unit)
		return
	}

	in := vm.NewInterp()
	in.UseCompiler(compiler.CompileString)

	args := make([]vm.Value, len(scriptArgs))
	for i, a := range scriptArgs {
		args[i] = vm.NewStr(a)
	}

	if _, err := in.Execute(unit, args, vm.VoidContext); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// compileCached compiles source text, consulting the unit cache when a
// manifest enables one.
func compileCached(src, sourceName string, pragmas vm.Pragmas,
	mf *manifest.Manifest, noCache, verbose bool) (*vm.Unit, error) {

	useCache := mf != nil && mf.Cache.Enabled && !noCache
	var store *cache.Cache
	var key string
	if useCache {
		var err error
		store, err = cache.Open(mf.CachePath())
		if err != nil {
			// A broken cache degrades to plain compilation.
			fmt.Fprintf(os.Stderr, "perlite: warning: %v\n", err)
			useCache = false
		} else {
			defer store.Close()
			key = wire.SourceKey(src, pragmas)
			u, err := store.Get(key)
			if err == nil {
				if verbose {
					fmt.Fprintf(os.Stderr, "loaded %s from cache\n", sourceName)
				}
				return u, nil
			}
			if !errors.Is(err, cache.ErrMiss) {
				fmt.Fprintf(os.Stderr, "perlite: warning: %v\n", err)
			}
		}
	}

	unit, err := compiler.CompileWithPragmas(src, sourceName, pragmas)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := store.Put(key, unit); err != nil {
			fmt.Fprintf(os.Stderr, "perlite: warning: %v\n", err)
		}
	}
	return unit, nil
}

// dumpUnit prints the disassembly of a unit and every nested unit.
func dumpUnit(u *vm.Unit) {
	fmt.Print(vm.Disassemble(u))
	for _, a := range u.Anon {
		fmt.Println()
		dumpUnit(a)
	}
	names := make([]string, 0, len(u.Subs))
	for name := range u.Subs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Println()
		dumpUnit(u.Subs[name])
	}
}

// runREPL starts an interactive read-eval-print loop. Each submission is
// evaluated as its own unit; named subroutines persist across lines,
// lexical variables do not.
func runREPL(pragmas vm.Pragmas) {
	fmt.Println("Perlite REPL (type 'exit' to quit)")
	fmt.Println()

	in := vm.NewInterp()
	in.UseCompiler(compiler.CompileString)

	host, err := compiler.CompileWithPragmas("", "(repl)", pragmas)
	if err != nil {
		fmt.Fprintf(os.Stderr, "perlite: %v\n", err)
		os.Exit(2)
	}

	scanner := bufio.NewScanner(os.Stdin)
	lineBuffer := strings.Builder{}

	for {
		if lineBuffer.Len() == 0 {
			fmt.Print(">> ")
		} else {
			fmt.Print(".. ")
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if lineBuffer.Len() == 0 && (line == "exit" || line == "quit") {
			break
		}

		if lineBuffer.Len() > 0 {
			lineBuffer.WriteString("\n")
		}
		lineBuffer.WriteString(line)

		// Continue accumulating until the input ends a statement.
		trimmed := strings.TrimSpace(lineBuffer.String())
		if trimmed == "" || (!strings.HasSuffix(trimmed, ";") && !strings.HasSuffix(trimmed, "}")) {
			continue
		}
		lineBuffer.Reset()

		result := in.EvalString(trimmed, host, nil, "(repl)", 1, vm.ScalarContext)
		if msg := in.LastError.Str(); msg != "" {
			fmt.Print(msg)
			continue
		}
		printValue(result)
	}

	fmt.Println()
}

// printValue prints an evaluation result in a readable form.
func printValue(v vm.Value) {
	switch x := v.(type) {
	case nil:
		fmt.Println("undef")
	case *vm.Scalar:
		if !x.Defined() {
			fmt.Println("undef")
		} else if x.Numeric() {
			fmt.Println(x.Str())
		} else {
			fmt.Printf("%q\n", x.Str())
		}
	case *vm.Array:
		fmt.Printf("(%d elements)\n", x.Len())
	case *vm.Hash:
		fmt.Printf("(%d keys)\n", x.Len())
	case *vm.Code:
		fmt.Printf("sub { ... } (%s)\n", x.Name)
	default:
		fmt.Printf("<%s>\n", v.Kind())
	}
}
