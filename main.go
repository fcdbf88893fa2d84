// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"xidraw-spooler/device"
	"xidraw-spooler/estimate"
)

const usageText = `usage: xidraw-spooler <command> [flags]

commands:
  serve     run the HTTP spooler daemon
  plot      stream a G-code file to the plotter
  send      send one query to the board and print the response
  estimate  predict plot duration and bounds without hardware
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "plot":
		os.Exit(runPlot(os.Args[2:]))
	case "send":
		os.Exit(runSend(os.Args[2:]))
	case "estimate":
		os.Exit(runEstimate(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usageText)
		os.Exit(2)
	}
}

// exitCode maps an error to the CLI exit convention: 1 when no device was
// found, 2 for protocol or timeout failures.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, device.ErrNoDeviceFound) {
		return 1
	}
	return 2
}

// multiRecorder fans one serial payload out to several recorders.
type multiRecorder []device.Recorder

func (m multiRecorder) Record(dir string, payload string) {
	for _, r := range m {
		r.Record(dir, payload)
	}
}

// openController attaches to an explicit port, or probes all candidates when
// none is given.
func openController(port string, baud int, rec device.Recorder) (*device.Controller, error) {
	cfg := device.LinkConfig{Baud: baud}
	if port != "" {
		return device.OpenController(port, cfg, rec)
	}
	return device.FindController(cfg, rec)
}

func addLimitsFlags(fs *flag.FlagSet) *estimate.Limits {
	limits := estimate.DefaultLimits()
	fs.Float64Var(&limits.MaxRateX, "max-rate-x", limits.MaxRateX, "X max rate (mm/min, $110)")
	fs.Float64Var(&limits.MaxRateY, "max-rate-y", limits.MaxRateY, "Y max rate (mm/min, $111)")
	fs.Float64Var(&limits.MaxAccelX, "max-accel-x", limits.MaxAccelX, "X max acceleration (mm/s^2, $120)")
	fs.Float64Var(&limits.MaxAccelY, "max-accel-y", limits.MaxAccelY, "Y max acceleration (mm/s^2, $121)")
	fs.Float64Var(&limits.JunctionDeviation, "junction-deviation", limits.JunctionDeviation, "junction deviation (mm, $11)")
	fs.BoolVar(&limits.DwellPMilliseconds, "dwell-p-ms", false, "interpret G4 P as milliseconds (pre-0.9 firmware)")
	return &limits
}

func setVerbose(verbose bool) {
	if verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.String("port", "", "Serial port name (default: probe)")
	baud := fs.Int("baud", 115200, "Serial port baud rate")
	addr := fs.String("addr", ":9000", "HTTP listen address")
	logDir := fs.String("log-dir", "logs", "Directory for session log files")
	initFile := fs.String("init-file", "init.txt", "Init file path")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	limits := addLimitsFlags(fs)
	fs.Parse(args)
	setVerbose(*verbose)

	logDirAbs, err := filepath.Abs(*logDir)
	if err != nil {
		slog.Error("Failed to resolve log directory path", "logDir", *logDir, "error", err)
		return 2
	}
	initFileAbs, err := filepath.Abs(*initFile)
	if err != nil {
		slog.Error("Failed to resolve init file path", "initFile", *initFile, "error", err)
		return 2
	}
	slog.Info("Using log directory", "path", logDirAbs)
	slog.Info("Using init file", "path", initFileAbs)

	traffic := NewTrafficLog()
	sessionLog := NewSessionLog(logDirAbs)
	defer sessionLog.Close()

	ctrl, err := openController(*port, *baud, multiRecorder{traffic, sessionLog})
	if err != nil {
		slog.Error("Failed to attach to plotter", "error", err)
		return exitCode(err)
	}
	defer ctrl.Close()

	if _, err := fetchInitLines(initFileAbs); err != nil {
		slog.Error("Init file error", "error", err)
		return 2
	}

	tsdb := NewTSDB()
	var lastOcc atomic.Int64
	disp := device.NewDispatcher(ctrl, device.DispatcherConfig{
		OnOccupancy: func(n int, tm time.Time) {
			tsdb.Insert("planner.occupancy", tm, float64(n))
			lastOcc.Store(int64(n))
		},
	})
	disp.Start()
	defer disp.Stop()

	sched := InitJobSched(disp, func() []string {
		lines, err := fetchInitLines(initFileAbs)
		if err != nil {
			slog.Warn("Failed to read init file, skipping prelude", "error", err)
			return nil
		}
		return lines
	})

	api := &spooler{
		disp:     disp,
		traffic:  traffic,
		jobs:     sched,
		tsdb:     tsdb,
		limits:   *limits,
		initFile: initFileAbs,
		lastOcc:  &lastOcc,
	}
	if err := StartHTTPServer(*addr, api); err != nil {
		slog.Error("HTTP server error", "error", err)
		return 2
	}
	return 0
}

func runPlot(args []string) int {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	port := fs.String("port", "", "Serial port name (default: probe)")
	baud := fs.Int("baud", 115200, "Serial port baud rate")
	initFile := fs.String("init-file", "", "Init file path (optional)")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	fs.Parse(args)
	setVerbose(*verbose)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: xidraw-spooler plot [flags] <file.gcode>")
		return 2
	}

	content, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		slog.Error("Failed to read G-code file", "path", fs.Arg(0), "error", err)
		return 2
	}

	var initLines []string
	if *initFile != "" {
		if initLines, err = fetchInitLines(*initFile); err != nil {
			slog.Error("Init file error", "error", err)
			return 2
		}
	}

	ctrl, err := openController(*port, *baud, nil)
	if err != nil {
		slog.Error("Failed to attach to plotter", "error", err)
		return exitCode(err)
	}
	defer ctrl.Close()

	disp := device.NewDispatcher(ctrl, device.DispatcherConfig{})
	disp.Start()
	defer disp.Stop()

	queued := 0
	for _, line := range append(initLines, strings.Split(string(content), "\n")...) {
		if line = device.CleanLine(line); line != "" {
			disp.Enqueue(line + "\n")
			queued++
		}
	}
	slog.Info("Streaming G-code", "path", fs.Arg(0), "lines", queued)

	started := time.Now()
	disp.WaitForEmptyQueue()
	if err := disp.Err(); err != nil {
		slog.Error("Plot failed", "error", err)
		return exitCode(err)
	}
	if err := disp.WaitForEmptyPlannerBuffer(); err != nil {
		slog.Error("Failed waiting for planner to drain", "error", err)
		return exitCode(err)
	}
	slog.Info("Plot finished", "duration", time.Since(started).Round(time.Second))
	return 0
}

func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	port := fs.String("port", "", "Serial port name (default: probe)")
	baud := fs.Int("baud", 115200, "Serial port baud rate")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	fs.Parse(args)
	setVerbose(*verbose)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: xidraw-spooler send [flags] <command>")
		return 2
	}

	ctrl, err := openController(*port, *baud, nil)
	if err != nil {
		slog.Error("Failed to attach to plotter", "error", err)
		return exitCode(err)
	}
	defer ctrl.Close()

	resp, err := ctrl.Query(fs.Arg(0) + "\n")
	if err != nil {
		slog.Error("Query failed", "command", fs.Arg(0), "error", err)
		return exitCode(err)
	}
	fmt.Println(resp)
	return 0
}

func runEstimate(args []string) int {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	limits := addLimitsFlags(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: xidraw-spooler estimate [flags] <file.gcode>")
		return 2
	}

	content, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		slog.Error("Failed to read G-code file", "path", fs.Arg(0), "error", err)
		return 2
	}

	res, err := estimate.Estimate(string(content), *limits)
	if err != nil {
		slog.Error("Estimation failed", "error", err)
		return 2
	}

	fmt.Printf("Estimated time: %.2f seconds\n", res.Seconds)
	fmt.Printf("Bounds:\n")
	fmt.Printf("  X: %.1f to %.1f (width: %.1fmm)\n", res.Bounds.MinX, res.Bounds.MaxX, res.Bounds.Width())
	fmt.Printf("  Y: %.1f to %.1f (height: %.1fmm)\n", res.Bounds.MinY, res.Bounds.MaxY, res.Bounds.Height())
	return 0
}
