// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// binder-inspector opens a Binder device session and renders a live,
// scrolling view of the decoded BC_*/BR_* traffic the Command Loop
// observes, optionally mirroring the same CBOR trace records to a file
// for later replay. It is a diagnostic front-end over lib/binder, not a
// general-purpose service-call tool: it drives the Command Loop's Run
// loop and watches what crosses it, it does not issue transactions of
// its own.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	bubbletea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/cellarworks/gobinder/lib/binder"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "binder-inspector: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var device string
	var maxThreads int
	var traceOut string
	var concurrency int64

	flagSet := pflag.NewFlagSet("binder-inspector", pflag.ContinueOnError)
	flagSet.StringVar(&device, "device", "", "binder device node to open (default: /dev/binder)")
	flagSet.IntVar(&maxThreads, "max-threads", 0, "BINDER_SET_MAX_THREADS ceiling (0: kernel default)")
	flagSet.StringVar(&traceOut, "trace-out", "", "also append CBOR trace records to this file")
	flagSet.Int64Var(&concurrency, "handler-concurrency", 4, "max concurrently dispatched inbound transactions")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		flagSet.PrintDefaults()
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := binder.Config{DevicePath: device, MaxThreads: maxThreads, Logger: logger}
	session, err := binder.Open(cfg)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	loop := binder.NewCommandLoop(session, concurrency)

	sink := newTraceSink(256)
	traceWriter := io.Writer(sink)
	if traceOut != "" {
		f, err := os.OpenFile(traceOut, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open trace-out file: %w", err)
		}
		defer f.Close()
		traceWriter = io.MultiWriter(sink, f)
	}
	loop.SetTracer(binder.NewTracer(traceWriter))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	loopErrCh := make(chan error, 1)
	go func() { loopErrCh <- loop.Run(ctx) }()

	program := bubbletea.NewProgram(newWatchModel(session.ABI().Name, sink.events))
	if _, err := program.Run(); err != nil {
		cancel()
		return fmt.Errorf("tui: %w", err)
	}
	cancel()

	if err := <-loopErrCh; err != nil && ctx.Err() == nil {
		return fmt.Errorf("command loop: %w", err)
	}
	return nil
}
