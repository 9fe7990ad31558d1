// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package xlog is a small leveled, structured logger in the key/value
// style of the node's logging layer: a message plus alternating key/value
// context, one record per line, colored per level when the sink is a
// terminal.
package xlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a log severity level.
type Lvl int

const (
	LvlError Lvl = iota
	LvlWarn
	LvlInfo
	LvlDebug
)

func (l Lvl) String() string {
	switch l {
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN "
	case LvlInfo:
		return "INFO "
	case LvlDebug:
		return "DEBUG"
	default:
		return "?????"
	}
}

// Logger writes leveled records with alternating key/value context.
type Logger interface {
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	// New returns a child logger whose records always carry ctx.
	New(ctx ...interface{}) Logger
}

type logger struct {
	mu    *sync.Mutex
	w     io.Writer
	lvl   Lvl
	color bool
	ctx   []interface{}
}

// New returns a Logger writing records at or below maxLvl to w. If w is a
// terminal the writer is wrapped to be Windows-safe and records are
// colored by level.
func New(w io.Writer, maxLvl Lvl) Logger {
	useColor := false
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		useColor = true
		w = colorable.NewColorable(f)
	}
	return &logger{mu: new(sync.Mutex), w: w, lvl: maxLvl, color: useColor}
}

var (
	rootOnce sync.Once
	rootLog  Logger
)

// Root returns the process-wide default logger (stderr, Info level).
func Root() Logger {
	rootOnce.Do(func() { rootLog = New(os.Stderr, LvlInfo) })
	return rootLog
}

func (l *logger) New(ctx ...interface{}) Logger {
	child := *l
	child.ctx = append(append([]interface{}{}, l.ctx...), ctx...)
	return &child
}

func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

var lvlColors = map[Lvl]*color.Color{
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	if lvl > l.lvl {
		return
	}

	label := lvl.String()
	if l.color {
		label = lvlColors[lvl].Sprint(label)
	}

	// Caller of the Debug/Info/... method: two frames above write.
	caller := fmt.Sprintf("%+v", stack.Caller(2))

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s [%s] %-24s %s", label, time.Now().Format("01-02|15:04:05.000"), msg, caller)
	writeCtx(l.w, l.ctx)
	writeCtx(l.w, ctx)
	fmt.Fprintln(l.w)
}

func writeCtx(w io.Writer, ctx []interface{}) {
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(w, " %v=%v", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 != 0 {
		fmt.Fprintf(w, " MISSING_VALUE=%v", ctx[len(ctx)-1])
	}
}
