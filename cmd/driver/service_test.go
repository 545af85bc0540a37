package main

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kardianos/service"
	"tools.zach/dev/driver/internal/control"
	"tools.zach/dev/driver/internal/latch"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

// syncBuffer is a bytes.Buffer safe for the loop goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testProgram returns a program over a fresh fast data directory. Exits are
// reported on the returned channel instead of ending the process.
func testProgram(t *testing.T, base control.Source, plat *platform) (*program, *syncBuffer, *syncBuffer, chan int) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(fastConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	if plat == nil {
		plat = &platform{
			newLatch:  func() (shutdownLatch, error) { return latch.New(), nil },
			newSource: func(*slog.Logger) control.Source { return base },
		}
	}
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	p := newProgram(options{dataDir: dir, logLevel: "debug", level: slog.LevelDebug, levelSet: true}, stdout, stderr, *plat)
	exits := make(chan int, 1)
	p.exit = func(code int) { exits <- code }
	p.stopTimeout = 5 * time.Second
	return p, stdout, stderr, exits
}

// waitRegistered blocks until the program's handler is installed.
func waitRegistered(t *testing.T, p *program) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		ok := p.handler != nil
		p.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("program never registered")
}

// ///////////////////////////////////////////////
// Program Tests
// ///////////////////////////////////////////////

func TestProgram_StopDeliversClose(t *testing.T) {
	p, stdout, stderr, exits := testProgram(t, nil, nil)
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRegistered(t, p)

	if err := p.Stop(nil); err != nil {
		t.Fatalf("Stop: %v\nstderr: %s", err, stderr.String())
	}
	if p.exitCode() != 0 {
		t.Errorf("exit = %d, want 0", p.exitCode())
	}
	if !strings.HasSuffix(stdout.String(), "Service shutting down\n") {
		t.Errorf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "received close event") {
		t.Errorf("stderr missing close event:\n%s", stderr.String())
	}
	select {
	case code := <-exits:
		t.Errorf("exit(%d) called after a manager stop", code)
	default:
	}
}

func TestProgram_ShutdownDeliversShutdown(t *testing.T) {
	p, _, stderr, _ := testProgram(t, nil, nil)
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRegistered(t, p)

	if err := p.Shutdown(nil); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !strings.Contains(stderr.String(), "received shutdown event") {
		t.Errorf("stderr missing shutdown event:\n%s", stderr.String())
	}
}

func TestProgram_StopBeforeRegister(t *testing.T) {
	p, _, _, _ := testProgram(t, nil, nil)
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Either the handler is not installed yet and the stop is held for
	// Register, or it is and the stop goes straight through.
	if err := p.Stop(nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.exitCode() != 0 {
		t.Errorf("exit = %d, want 0", p.exitCode())
	}
}

func TestProgram_StopWithoutStart(t *testing.T) {
	p, _, _, _ := testProgram(t, nil, nil)
	if err := p.Stop(nil); err != nil {
		t.Errorf("Stop = %v, want nil", err)
	}
}

func TestProgram_StartTwice(t *testing.T) {
	p, _, _, _ := testProgram(t, nil, nil)
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(nil)
	if err := p.Start(nil); err == nil {
		t.Error("second Start should fail")
	}
}

func TestProgram_InteractiveSourceEndsRun(t *testing.T) {
	fake := &control.Fake{}
	p, _, _, exits := testProgram(t, fake, nil)
	p.interactive = true
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRegistered(t, p)
	if !fake.Registered() {
		t.Fatal("platform source not registered in interactive mode")
	}

	fake.Deliver(control.InterruptRequested)

	select {
	case code := <-exits:
		if code != 0 {
			t.Errorf("exit = %d, want 0", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("program did not exit after an interrupt")
	}
}

func TestProgram_ManagedSkipsPlatformSource(t *testing.T) {
	fake := &control.Fake{}
	p, _, _, _ := testProgram(t, fake, nil)
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRegistered(t, p)
	if fake.Registered() {
		t.Error("platform source registered under the service manager")
	}
	if err := p.Stop(nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestProgram_StartupFailureExits(t *testing.T) {
	plat := &platform{
		newLatch: func() (shutdownLatch, error) { return nil, errors.New("no latch") },
	}
	p, _, stderr, exits := testProgram(t, nil, plat)
	if err := p.Start(nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case code := <-exits:
		if code != 1 {
			t.Errorf("exit = %d, want 1", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("program did not exit")
	}
	if !strings.Contains(stderr.String(), "could not create shutdown latch") {
		t.Errorf("stderr = %s", stderr.String())
	}
}

func TestProgram_RegisterTwice(t *testing.T) {
	p := newProgram(options{}, nil, nil, platform{})
	h := func(control.Event) bool { return true }
	if err := p.Register(h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Register(h); !errors.Is(err, control.ErrAlreadyRegistered) {
		t.Errorf("second Register = %v, want ErrAlreadyRegistered", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Register(h); err != nil {
		t.Errorf("Register after Close = %v", err)
	}
}

// ///////////////////////////////////////////////
// Service Command Tests
// ///////////////////////////////////////////////

func TestServiceConfig(t *testing.T) {
	tests := []struct {
		name string
		opts options
		want []string
	}{
		{
			name: "level from config",
			opts: options{dataDir: "data", logLevel: "warn"},
			want: []string{"service", "run", "--data-dir", "ABS"},
		},
		{
			name: "level flag kept",
			opts: options{dataDir: "data", logLevel: "debug", levelSet: true},
			want: []string{"service", "run", "--data-dir", "ABS", "--log-level", "debug"},
		},
	}
	abs, err := filepath.Abs("data")
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := serviceConfig(tt.opts)
			if err != nil {
				t.Fatalf("serviceConfig: %v", err)
			}
			if cfg.Name != "driver" {
				t.Errorf("Name = %q", cfg.Name)
			}
			want := strings.Join(tt.want, " ")
			want = strings.Replace(want, "ABS", abs, 1)
			if got := strings.Join(cfg.Arguments, " "); got != want {
				t.Errorf("Arguments = %q, want %q", got, want)
			}
		})
	}
}

func TestStatusName(t *testing.T) {
	tests := []struct {
		st   service.Status
		err  error
		want string
	}{
		{service.StatusRunning, nil, "running"},
		{service.StatusStopped, nil, "stopped"},
		{service.StatusUnknown, nil, "unknown"},
		{service.StatusUnknown, service.ErrNotInstalled, "not installed"},
	}
	for _, tt := range tests {
		if got := statusName(tt.st, tt.err); got != tt.want {
			t.Errorf("statusName(%v, %v) = %q, want %q", tt.st, tt.err, got, tt.want)
		}
	}
}

func TestServiceCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing action", []string{"service"}, "error: accepts 1 arg(s)"},
		{"unknown action", []string{"service", "explode"}, "error: invalid argument"},
		{"bad level", []string{"service", "status", "-l", "loud"}, "error: invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := execute(tt.args, &stdout, &stderr, defaultPlatform())
			if code != 1 {
				t.Errorf("exit = %d, want 1", code)
			}
			if !strings.HasPrefix(stderr.String(), tt.wantErr) {
				t.Errorf("stderr = %q, want prefix %q", stderr.String(), tt.wantErr)
			}
		})
	}
}

// fakeService records manager calls.
type fakeService struct {
	service.Service
	calls  []string
	status service.Status
	err    error
}

func (f *fakeService) String() string   { return "driver" }
func (f *fakeService) Install() error   { f.calls = append(f.calls, "install"); return f.err }
func (f *fakeService) Uninstall() error { f.calls = append(f.calls, "uninstall"); return f.err }
func (f *fakeService) Start() error     { f.calls = append(f.calls, "start"); return f.err }
func (f *fakeService) Stop() error      { f.calls = append(f.calls, "stop"); return f.err }
func (f *fakeService) Restart() error   { f.calls = append(f.calls, "restart"); return f.err }
func (f *fakeService) Status() (service.Status, error) {
	f.calls = append(f.calls, "status")
	return f.status, f.err
}

func withFakeService(t *testing.T, f *fakeService) {
	t.Helper()
	orig := newManagedService
	newManagedService = func(service.Interface, *service.Config) (service.Service, error) {
		return f, nil
	}
	t.Cleanup(func() { newManagedService = orig })
}

func TestServiceCommandControl(t *testing.T) {
	tests := []struct {
		args       []string
		err        error
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{[]string{"service", "install"}, nil, 0, "driver: install done\n", ""},
		{[]string{"service", "uninstall"}, nil, 0, "driver: uninstall done\n", ""},
		{[]string{"service", "start"}, nil, 0, "driver: start done\n", ""},
		{[]string{"service", "stop"}, nil, 0, "driver: stop done\n", ""},
		{[]string{"service", "restart"}, nil, 0, "driver: restart done\n", ""},
		{[]string{"service", "install"}, errors.New("access denied"), 1, "", "error: service install: Failed to install driver: access denied\n"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			f := &fakeService{err: tt.err}
			withFakeService(t, f)

			var stdout, stderr bytes.Buffer
			code := execute(append(tt.args, "--data-dir", t.TempDir()), &stdout, &stderr, defaultPlatform())
			if code != tt.wantCode {
				t.Errorf("exit = %d, want %d", code, tt.wantCode)
			}
			if stdout.String() != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.wantStdout)
			}
			if stderr.String() != tt.wantStderr {
				t.Errorf("stderr = %q, want %q", stderr.String(), tt.wantStderr)
			}
			if len(f.calls) != 1 || f.calls[0] != tt.args[1] {
				t.Errorf("calls = %v, want [%s]", f.calls, tt.args[1])
			}
		})
	}
}

func TestServiceCommandStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   service.Status
		err      error
		wantCode int
		want     string
	}{
		{"running", service.StatusRunning, nil, 0, "driver: running\n"},
		{"not installed", service.StatusUnknown, service.ErrNotInstalled, 0, "driver: not installed\n"},
		{"failure", service.StatusUnknown, errors.New("dbus down"), 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withFakeService(t, &fakeService{status: tt.status, err: tt.err})
			var stdout, stderr bytes.Buffer
			code := execute([]string{"service", "status", "--data-dir", t.TempDir()}, &stdout, &stderr, defaultPlatform())
			if code != tt.wantCode {
				t.Errorf("exit = %d, want %d (stderr %q)", code, tt.wantCode, stderr.String())
			}
			if stdout.String() != tt.want {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.want)
			}
		})
	}
}
