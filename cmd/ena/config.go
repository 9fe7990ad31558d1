// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package main

import (
	"bufio"
	"errors"
	"os"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/enalang/ena/vm"
)

// enaConfig is the TOML file layout accepted by -config. Flags win over
// file values.
type enaConfig struct {
	VM vmConfig
}

type vmConfig struct {
	DebugStack bool   `toml:"debug_stack"`
	EnableGC   bool   `toml:"enable_gc"`
	DebugGC    bool   `toml:"debug_gc"`
	DebugCalls bool   `toml:"debug_calls"`
	HeapMmap   bool   `toml:"heap_mmap"`
	Main       string `toml:"main"`
}

func defaultConfig() enaConfig {
	return enaConfig{VM: vmConfig{EnableGC: true, Main: "main"}}
}

func loadConfig(file string, cfg *enaConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = toml.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig merges the optional -config file with command-line flags,
// flags taking precedence.
func makeConfig(ctx *cli.Context) (enaConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(debugStackFlag.Name) {
		cfg.VM.DebugStack = ctx.Bool(debugStackFlag.Name)
	}
	if ctx.IsSet(noGcFlag.Name) {
		cfg.VM.EnableGC = !ctx.Bool(noGcFlag.Name)
	}
	if ctx.IsSet(debugGcFlag.Name) {
		cfg.VM.DebugGC = ctx.Bool(debugGcFlag.Name)
	}
	if ctx.IsSet(debugCallsFlag.Name) {
		cfg.VM.DebugCalls = ctx.Bool(debugCallsFlag.Name)
	}
	if ctx.IsSet(heapMmapFlag.Name) || os.Getenv("HEAP_MMAP") == "1" {
		cfg.VM.HeapMmap = true
	}
	if ctx.IsSet(mainWordFlag.Name) {
		cfg.VM.Main = ctx.String(mainWordFlag.Name)
	}
	return cfg, nil
}

func (c enaConfig) vmOptions() vm.Options {
	return vm.Options{
		DebugStack: c.VM.DebugStack,
		EnableGC:   c.VM.EnableGC,
		DebugGC:    c.VM.DebugGC,
		DebugCalls: c.VM.DebugCalls,
		HeapMmap:   c.VM.HeapMmap,
	}
}
