package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"tools.zach/dev/driver/internal/control"
	"tools.zach/dev/driver/internal/exitcode"
	"tools.zach/dev/driver/internal/paths"
)

// ///////////////////////////////////////////////
// Service Manager
// ///////////////////////////////////////////////

const (
	serviceName        = paths.BinaryName
	serviceDisplayName = "Driver"
	serviceDescription = "Periodic heartbeat service with graceful shutdown."
	// serviceStopTimeout bounds how long a manager stop waits for the loop.
	serviceStopTimeout = 20 * time.Second
)

// serviceActions are the arguments the service subcommand accepts.
var serviceActions = append([]string{"run", "status"}, service.ControlAction[:]...)

// newManagedService creates the OS service handle. Tests replace it.
var newManagedService = service.New

// newServiceCmd builds the service subcommand. Like the root command it
// stores the exit status in *code.
func newServiceCmd(opts *options, stdout, stderr io.Writer, plat platform, code *int) *cobra.Command {
	return &cobra.Command{
		Use:       "service {" + strings.Join(serviceActions, "|") + "}",
		Short:     "Install, control or run driver under the OS service manager",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: serviceActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.resolve(cmd); err != nil {
				return err
			}
			*code = serviceAction(args[0], *opts, stdout, stderr, plat)
			return nil
		},
	}
}

// serviceConfig describes the installed service. The data directory is made
// absolute because the manager starts the binary from its own working
// directory.
func serviceConfig(opts options) (*service.Config, error) {
	dir, err := filepath.Abs(opts.dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	args := []string{"service", "run", "--data-dir", dir}
	if opts.levelSet {
		args = append(args, "--log-level", opts.logLevel)
	}
	return &service.Config{
		Name:        serviceName,
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
		Arguments:   args,
	}, nil
}

// serviceAction performs one service subcommand and returns the exit status.
func serviceAction(action string, opts options, stdout, stderr io.Writer, plat platform) int {
	cfg, err := serviceConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitcode.Failure
	}
	prog := newProgram(opts, stdout, stderr, plat)
	svc, err := newManagedService(prog, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: service config: %v\n", err)
		return exitcode.Failure
	}

	switch action {
	case "run":
		prog.interactive = service.Interactive()
		if err := svc.Run(); err != nil {
			fmt.Fprintf(stderr, "error: run service: %v\n", err)
			return exitcode.Failure
		}
		return prog.exitCode()
	case "status":
		st, err := svc.Status()
		if err != nil && !errors.Is(err, service.ErrNotInstalled) {
			fmt.Fprintf(stderr, "error: service status: %v\n", err)
			return exitcode.Failure
		}
		fmt.Fprintf(stdout, "%s: %s\n", serviceName, statusName(st, err))
		return exitcode.Success
	default:
		if err := service.Control(svc, action); err != nil {
			fmt.Fprintf(stderr, "error: service %s: %v\n", action, err)
			return exitcode.Failure
		}
		fmt.Fprintf(stdout, "%s: %s done\n", serviceName, action)
		return exitcode.Success
	}
}

func statusName(st service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ///////////////////////////////////////////////
// Program
// ///////////////////////////////////////////////

// program runs the driver under the service manager. It is also a
// [control.Source]: the manager's stop and shutdown requests are delivered
// to the same handler the OS sources use.
type program struct {
	opts           options
	stdout, stderr io.Writer
	plat           platform
	// interactive adds the platform control source when running from a
	// terminal instead of under the manager.
	interactive bool
	// exit ends the process when the loop stops without a manager request,
	// for example on a stop file or a startup failure.
	exit        func(code int)
	stopTimeout time.Duration

	mu         sync.Mutex
	handler    control.HandlerFunc
	pending    control.Event
	hasPending bool
	stopping   bool
	done       chan struct{}
	code       int
}

func newProgram(opts options, stdout, stderr io.Writer, plat platform) *program {
	return &program{
		opts:        opts,
		stdout:      stdout,
		stderr:      stderr,
		plat:        plat,
		exit:        os.Exit,
		stopTimeout: serviceStopTimeout,
	}
}

// Start launches the service loop in the background.
func (p *program) Start(service.Service) error {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return errors.New("service already started")
	}
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	plat := p.plat
	base := plat.newSource
	plat.newSource = func(log *slog.Logger) control.Source {
		if p.interactive && base != nil {
			return control.Multi{base(log), p}
		}
		return p
	}

	go func() {
		code := run(p.opts, p.stdout, p.stderr, plat)
		p.mu.Lock()
		p.code = code
		stopping := p.stopping
		p.mu.Unlock()
		close(done)
		if !stopping && p.exit != nil {
			p.exit(code)
		}
	}()
	return nil
}

// Stop asks the loop to stop and waits for it.
func (p *program) Stop(service.Service) error {
	return p.stop(control.CloseRequested)
}

// Shutdown is Stop for a system shutdown.
func (p *program) Shutdown(service.Service) error {
	return p.stop(control.ShutdownRequested)
}

func (p *program) stop(ev control.Event) error {
	p.mu.Lock()
	p.stopping = true
	done := p.done
	h := p.handler
	if h == nil {
		// Not registered yet; Register delivers it.
		p.pending, p.hasPending = ev, true
	}
	p.mu.Unlock()

	if done == nil {
		return nil
	}
	if h != nil {
		h(ev)
	}

	select {
	case <-done:
	case <-time.After(p.stopTimeout):
		return fmt.Errorf("%s did not stop within %v", serviceName, p.stopTimeout)
	}
	if code := p.exitCode(); code != exitcode.Success {
		return fmt.Errorf("%s stopped with exit status %d", serviceName, code)
	}
	return nil
}

// Register implements control.Source.
func (p *program) Register(h control.HandlerFunc) error {
	p.mu.Lock()
	if p.handler != nil {
		p.mu.Unlock()
		return &control.RegistrationError{Source: "service manager", Err: control.ErrAlreadyRegistered}
	}
	p.handler = h
	ev, pending := p.pending, p.hasPending
	p.hasPending = false
	p.mu.Unlock()

	if pending {
		h(ev)
	}
	return nil
}

// Close implements control.Source.
func (p *program) Close() error {
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()
	return nil
}

func (p *program) exitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}
