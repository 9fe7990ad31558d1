// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// ena is the command-line driver for the ena toolchain: it links compiled
// IR envelopes, checks them, optimizes them, and runs them on the VM.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/imroc/biu"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/enalang/ena/blocks"
	"github.com/enalang/ena/checker"
	"github.com/enalang/ena/internal/store"
	"github.com/enalang/ena/ir"
	"github.com/enalang/ena/optimizer"
	"github.com/enalang/ena/vm"
)

var (
	outputFlag = cli.StringFlag{
		Name:  "o",
		Usage: "output file for the linked envelope",
		Value: "out" + ir.DefaultExtension,
	}
	mainWordFlag = cli.StringFlag{
		Name:  "main-word",
		Usage: "entry block name",
		Value: "main",
	}
	optimizeFlag = cli.BoolFlag{
		Name:  "optimize",
		Usage: "run the inline optimizer over the linked program",
	}
	pruneUnusedFlag = cli.BoolFlag{
		Name:  "prune-unused",
		Usage: "drop global blocks unreachable from the entry (with --optimize)",
	}
	deterministicFlag = cli.BoolFlag{
		Name:  "deterministic",
		Usage: "derive optimizer-generated names from content hashes",
	}
	printIRFlag = cli.BoolFlag{
		Name:  "print-ir",
		Usage: "print a block summary table of the result",
	}
	bitsFlag = cli.BoolFlag{
		Name:  "bits",
		Usage: "with --print-ir, also dump the envelope as binary bits",
	}
	prettyFlag = cli.BoolFlag{
		Name:  "pretty",
		Usage: "indent JSON output",
	}
	cacheDirFlag = cli.StringFlag{
		Name:  "cache-dir",
		Usage: "content-addressed cache directory for linked envelopes",
	}
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	debugStackFlag = cli.BoolFlag{
		Name:  "debug-stack",
		Usage: "log the operand stack after every push and pop",
	}
	noGcFlag = cli.BoolFlag{
		Name:  "no-gc",
		Usage: "disable refcount-triggered freeing",
	}
	debugGcFlag = cli.BoolFlag{
		Name:  "debug-gc",
		Usage: "log heap refcount changes and frees",
	}
	debugCallsFlag = cli.BoolFlag{
		Name:  "debug-calls",
		Usage: "log block entry and exit",
	}
	heapMmapFlag = cli.BoolFlag{
		Name:  "heap-mmap",
		Usage: "map an anonymous mmap region alongside the heap (also HEAP_MMAP=1)",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ena"
	app.Usage = "link, check, optimize, and run ena IR programs"
	app.Commands = []cli.Command{
		{
			Name:      "link",
			Usage:     "merge IR envelopes into one program",
			ArgsUsage: "FILES",
			Action:    linkCmd,
			Flags: []cli.Flag{
				outputFlag, mainWordFlag, optimizeFlag, pruneUnusedFlag,
				deterministicFlag, printIRFlag, bitsFlag, cacheDirFlag, configFlag,
			},
		},
		{
			Name:      "check",
			Usage:     "statically validate IR envelopes",
			ArgsUsage: "FILES",
			Action:    checkCmd,
		},
		{
			Name:      "run",
			Usage:     "execute one IR envelope",
			ArgsUsage: "FILE",
			Action:    runCmd,
			Flags: []cli.Flag{
				mainWordFlag, configFlag, debugStackFlag, noGcFlag,
				debugGcFlag, debugCallsFlag, heapMmapFlag,
			},
		},
		{
			Name:      "optimize",
			Usage:     "run the inline optimizer and print or save the result",
			ArgsUsage: "FILES",
			Action:    optimizeCmd,
			Flags: []cli.Flag{
				outputFlag, mainWordFlag, pruneUnusedFlag, deterministicFlag,
				printIRFlag, bitsFlag,
			},
		},
		{
			Name:      "json",
			Usage:     "dump an IR envelope as JSON",
			ArgsUsage: "FILE",
			Action:    jsonCmd,
			Flags:     []cli.Flag{prettyFlag},
		},
		{
			Name:      "doc",
			Usage:     "render block documentation from annotations",
			ArgsUsage: "FILES",
			Action:    docCmd,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "g", Usage: "output format: json or markdown", Value: "markdown"},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ena:", err)
		os.Exit(1)
	}
}

func loadIRs(files []string) (*ir.IR, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	linker := ir.NewLinker()
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		program, err := ir.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if err := linker.Add(program); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}
	return linker.IR(), nil
}

func checkProgram(program *ir.IR) error {
	registry, err := blocks.New(program, vm.DefaultNatives())
	if err != nil {
		return err
	}
	errs := checker.New(registry).Check()
	if len(errs) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(os.Stderr)
	table.SetHeader([]string{"Block", "Name", "Problem"})
	for _, e := range errs {
		if ce, ok := e.(*checker.Error); ok {
			problem := "unknown block"
			if ce.Shadow {
				problem = "cannot shadow in local scope"
			}
			table.Append([]string{ce.In, ce.Name, problem})
			continue
		}
		table.Append([]string{"", "", e.Error()})
	}
	table.Render()
	return fmt.Errorf("%d check error(s)", len(errs))
}

func linkCmd(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	program, err := loadIRs(ctx.Args())
	if err != nil {
		return err
	}
	if err := checkProgram(program); err != nil {
		return err
	}
	if ctx.Bool(optimizeFlag.Name) {
		opt := optimizer.New(optimizer.Options{Deterministic: ctx.Bool(deterministicFlag.Name)})
		program, err = opt.Inline(program)
		if err != nil {
			return err
		}
		if ctx.Bool(pruneUnusedFlag.Name) {
			program, err = optimizer.RemoveUnusedBlocks(program, cfg.VM.Main)
			if err != nil {
				return err
			}
		}
	}

	if dir := ctx.String(cacheDirFlag.Name); dir != "" {
		cache, err := store.Open(dir)
		if err != nil {
			return err
		}
		defer cache.Close()
		if _, err := cache.Put(program); err != nil {
			return err
		}
	}

	enc, err := ir.Encode(program, true)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ctx.String(outputFlag.Name), enc, 0o644); err != nil {
		return err
	}
	if ctx.Bool(printIRFlag.Name) {
		printIR(program, ctx.Bool(bitsFlag.Name))
	}
	return nil
}

func checkCmd(ctx *cli.Context) error {
	program, err := loadIRs(ctx.Args())
	if err != nil {
		return err
	}
	return checkProgram(program)
}

func runCmd(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.NArg() != 1 {
		return fmt.Errorf("run takes exactly one file")
	}
	program, err := loadIRs(ctx.Args())
	if err != nil {
		return err
	}

	machine, err := vm.New(program, vm.DefaultNatives(), cfg.vmOptions())
	if err != nil {
		return err
	}
	if _, err := machine.Run(cfg.VM.Main); err != nil {
		calls := machine.ErrorTrace()
		if len(calls) > 0 {
			fmt.Fprintf(os.Stderr, "call stack (innermost last):\n")
			for _, name := range calls {
				fmt.Fprintf(os.Stderr, "  %s\n", name)
			}
		}
		return err
	}
	return nil
}

func optimizeCmd(ctx *cli.Context) error {
	program, err := loadIRs(ctx.Args())
	if err != nil {
		return err
	}
	opt := optimizer.New(optimizer.Options{Deterministic: ctx.Bool(deterministicFlag.Name)})
	program, err = opt.Inline(program)
	if err != nil {
		return err
	}
	if ctx.Bool(pruneUnusedFlag.Name) {
		program, err = optimizer.RemoveUnusedBlocks(program, ctx.String(mainWordFlag.Name))
		if err != nil {
			return err
		}
	}
	enc, err := ir.Encode(program, true)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ctx.String(outputFlag.Name), enc, 0o644); err != nil {
		return err
	}
	if ctx.Bool(printIRFlag.Name) {
		printIR(program, ctx.Bool(bitsFlag.Name))
	}
	return nil
}

func jsonCmd(ctx *cli.Context) error {
	program, err := loadIRs(ctx.Args())
	if err != nil {
		return err
	}
	doc := irToJSON(program)
	var out []byte
	if ctx.Bool(prettyFlag.Name) {
		out, err = json.MarshalIndent(doc, "", "  ")
	} else {
		out, err = json.Marshal(doc)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func docCmd(ctx *cli.Context) error {
	program, err := loadIRs(ctx.Args())
	if err != nil {
		return err
	}

	names := make([]string, 0, len(program.Annotations))
	for name := range program.Annotations {
		names = append(names, name)
	}
	sort.Strings(names)

	switch format := ctx.String("g"); format {
	case "json":
		docs := make(map[string]string, len(names))
		for _, name := range names {
			docs[name] = docLines(program.Annotations[name])
		}
		out, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "markdown":
		for _, name := range names {
			text := docLines(program.Annotations[name])
			if text == "" {
				continue
			}
			fmt.Printf("## %s\n\n%s\n\n", name, text)
		}
	default:
		return fmt.Errorf("unknown doc format %q", format)
	}
	return nil
}

// docLines filters an annotation down to its documentation: directive
// lines (@...) and machine-consumed lines (!...) are dropped.
func docLines(annotation string) string {
	var keep []string
	for _, line := range strings.Split(annotation, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "@") || strings.HasPrefix(trimmed, "!") {
			continue
		}
		keep = append(keep, line)
	}
	return strings.TrimSpace(strings.Join(keep, "\n"))
}

func printIR(program *ir.IR, bits bool) {
	names := make([]string, 0, len(program.Blocks))
	for name := range program.Blocks {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Block", "Global", "Run Type", "Ops"})
	for _, name := range names {
		block := program.Blocks[name]
		table.Append([]string{
			name,
			fmt.Sprintf("%v", block.Global),
			block.RunType.String(),
			fmt.Sprintf("%d", len(block.Code)),
		})
	}
	table.Render()

	if bits {
		enc, err := ir.Encode(program, false)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ena:", err)
			return
		}
		fmt.Println(biu.BytesToBinaryString(enc))
	}
}

// ---- JSON rendering ---------------------------------------------------------

func irToJSON(program *ir.IR) map[string]interface{} {
	blocksDoc := make(map[string]interface{}, len(program.Blocks))
	for name, block := range program.Blocks {
		blocksDoc[name] = blockToJSON(block)
	}
	doc := map[string]interface{}{"blocks": blocksDoc}
	if len(program.Annotations) > 0 {
		doc["annotations"] = program.Annotations
	}
	if len(program.SourceMap) > 0 {
		sm := make(map[string]interface{}, len(program.SourceMap))
		for name, pos := range program.SourceMap {
			sm[name] = map[string]interface{}{"file": pos.File, "line": pos.Line, "col": pos.Col}
		}
		doc["source_map"] = sm
	}
	return doc
}

func blockToJSON(block ir.Block) map[string]interface{} {
	return map[string]interface{}{
		"global":   block.Global,
		"run_type": block.RunType.String(),
		"code":     codeToJSON(block.Code),
	}
}

func codeToJSON(code []ir.IRCode) []interface{} {
	out := make([]interface{}, 0, len(code))
	for _, c := range code {
		op := map[string]interface{}{"op": c.Op.String()}
		switch c.Op {
		case ir.OpPutValue:
			op["value"] = valueToJSON(c.Value)
		case ir.OpCall, ir.OpIf, ir.OpWhile:
			op["name"] = c.Name
		case ir.OpLocalBlock:
			op["name"] = c.Name
			op["run_type"] = c.RunType.String()
			op["code"] = codeToJSON(c.Code)
		}
		out = append(out, op)
	}
	return out
}

func valueToJSON(v ir.Value) map[string]interface{} {
	doc := map[string]interface{}{"kind": v.Kind().String()}
	switch v.Kind() {
	case ir.KindNumber:
		n, _ := v.AsNumber()
		doc["number"] = n
	case ir.KindString:
		s, _ := v.AsString()
		doc["string"] = s
	case ir.KindBoolean:
		b, _ := v.AsBoolean()
		doc["boolean"] = b
	case ir.KindPointer:
		p, _ := v.AsPointer()
		doc["pointer"] = p
	case ir.KindBlock:
		name, _ := v.AsBlock()
		doc["block"] = name
	case ir.KindAtom:
		name, _ := v.AsAtom()
		doc["atom"] = name
	case ir.KindException:
		inner, _ := v.AsException()
		doc["exception"] = valueToJSON(inner)
	}
	return doc
}
