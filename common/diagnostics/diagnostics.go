// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package diagnostics adds profiling and tracing facilities to command line
// tools.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"runtime/trace"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// Flags names the command line flags controlling the diagnostics. Nil
// flags disable the respective facility.
type Flags struct {
	// Port of the pprof HTTP server, zero disables the server.
	Port *cli.IntFlag
	// CpuProfile is the file receiving a CPU profile of the command.
	CpuProfile *cli.StringFlag
	// HeapProfile is the file receiving a heap profile taken at the end of
	// the command.
	HeapProfile *cli.StringFlag
	// Trace is the file receiving an execution trace of the command.
	Trace *cli.StringFlag
}

// WrapAction wraps a command action such that the diagnostics requested by
// the given flags are active while the action runs.
func WrapAction(action cli.ActionFunc, flags Flags) cli.ActionFunc {
	return func(ctx *cli.Context) (err error) {
		if flags.Port != nil {
			server, err := startServer(ctx.Int(flags.Port.Name))
			if err != nil {
				return err
			}
			if server != nil {
				defer stopServer(server)
			}
		}

		if file := fileName(ctx, flags.CpuProfile); file != "" {
			stop, err := startCpuProfile(file)
			if err != nil {
				return err
			}
			defer stop()
		}

		if file := fileName(ctx, flags.Trace); file != "" {
			stop, err := startTrace(file)
			if err != nil {
				return err
			}
			defer stop()
		}

		if file := fileName(ctx, flags.HeapProfile); file != "" {
			defer func() {
				err = errors.Join(err, writeHeapProfile(file))
			}()
		}

		return action(ctx)
	}
}

func fileName(ctx *cli.Context, flag *cli.StringFlag) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(ctx.String(flag.Name))
}

// startServer serves the pprof endpoints on the given local port. Block
// and mutex profiles are sampled at full rate while the server runs.
func startServer(port int) (*http.Server, error) {
	if port == 0 {
		return nil, nil
	}
	if port < 0 || port >= 1<<16 {
		return nil, fmt.Errorf("invalid diagnostics port %d", port)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to start diagnostics server: %w", err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Diagnostics server failed", "err", err)
		}
	}()
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	log.Info("Started diagnostics server", "url", fmt.Sprintf("http://localhost:%d/debug/pprof/", port))
	return server, nil
}

func stopServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("Failed to stop diagnostics server", "err", err)
	}
	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
}

func startCpuProfile(file string) (func(), error) {
	f, err := os.Create(file)
	if err != nil {
		return nil, fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := rpprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not start CPU profile: %w", err)
	}
	return func() {
		rpprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}

func startTrace(file string) (func(), error) {
	f, err := os.Create(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start trace: %w", err)
	}
	return func() {
		trace.Stop()
		_ = f.Close()
	}, nil
}

func writeHeapProfile(file string) error {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("could not create heap profile: %w", err)
	}
	runtime.GC()
	return errors.Join(rpprof.WriteHeapProfile(f), f.Close())
}
