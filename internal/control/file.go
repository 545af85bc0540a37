package control

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"tools.zach/dev/driver/internal/paths"
)

// ///////////////////////////////////////////////
// Stop File Source
// ///////////////////////////////////////////////

// DefaultFilePollInterval is how often the directory is scanned when fsnotify
// is unavailable.
const DefaultFilePollInterval = 2 * time.Second

// FileSource delivers [ShutdownRequested] when a file whose name matches a
// glob appears in a directory. The matching file is consumed (removed) on
// delivery, so a stop request can be repeated by recreating it.
//
// The pattern is matched against base names with doublestar syntax, e.g.
// ".stop" or "{stop,halt}.*". Names driver keeps in the data directory
// ([paths.Reserved]) never match, whatever the pattern.
type FileSource struct {
	// dir is the directory being watched.
	dir string
	// pattern is the doublestar glob for trigger file names.
	pattern string
	log     *slog.Logger
	// PollInterval is the scan interval in polling mode. Set it before
	// Register.
	PollInterval time.Duration

	registered atomic.Bool
	polling    atomic.Bool
	done       chan struct{}
	once       sync.Once

	// mu guards fsw, which watch may clear when it falls back to polling.
	mu  sync.Mutex
	fsw *fsnotify.Watcher
	wg  sync.WaitGroup
}

// NewFileSource returns a source watching dir for names matching pattern.
func NewFileSource(dir, pattern string, log *slog.Logger) (*FileSource, error) {
	if pattern == "" {
		return nil, errors.New("stop file pattern is empty")
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid stop file pattern %q", pattern)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &FileSource{
		dir:          dir,
		pattern:      pattern,
		log:          log,
		PollInterval: DefaultFilePollInterval,
		done:         make(chan struct{}),
	}, nil
}

// Register removes stale trigger files left by a previous run and starts
// watching. It falls back to polling when fsnotify cannot watch the
// directory.
func (s *FileSource) Register(h HandlerFunc) error {
	if !s.registered.CompareAndSwap(false, true) {
		return &RegistrationError{Source: "stop file", Err: ErrAlreadyRegistered}
	}

	for _, path := range s.scan() {
		s.log.Debug("removing stale stop file", "path", path)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &RegistrationError{Source: "stop file", Err: err}
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Info("fsnotify unavailable, falling back to polling", "error", err)
		s.startPolling(h)
		return nil
	}
	if err := fsw.Add(s.dir); err != nil {
		s.log.Info("cannot watch directory, falling back to polling", "path", s.dir, "error", err)
		fsw.Close()
		s.startPolling(h)
		return nil
	}

	s.mu.Lock()
	s.fsw = fsw
	s.mu.Unlock()

	s.wg.Add(1)
	go s.watch(fsw, h)
	return nil
}

// Polling reports whether the source is scanning instead of using fsnotify.
func (s *FileSource) Polling() bool {
	return s.polling.Load()
}

// Close stops watching. It is idempotent.
func (s *FileSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		fsw := s.fsw
		s.fsw = nil
		s.mu.Unlock()
		if fsw != nil {
			if closeErr := fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
		}
		s.wg.Wait()
	})
	return err
}

func (s *FileSource) watch(fsw *fsnotify.Watcher, h HandlerFunc) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && s.matches(event.Name) {
				s.fire(event.Name, h)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.log.Info("fsnotify error, switching to polling", "error", err)
			s.mu.Lock()
			if s.fsw == fsw {
				s.fsw = nil
			}
			s.mu.Unlock()
			fsw.Close()
			s.startPolling(h)
			return
		}
	}
}

func (s *FileSource) startPolling(h HandlerFunc) {
	s.polling.Store(true)
	s.wg.Add(1)
	go s.poll(h)
}

func (s *FileSource) poll(h HandlerFunc) {
	defer s.wg.Done()

	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultFilePollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			for _, path := range s.scan() {
				s.fire(path, h)
			}
		}
	}
}

// fire consumes the trigger file and delivers the event. A file that has
// already been removed (by a concurrent poll, or by the user) is skipped.
func (s *FileSource) fire(path string, h HandlerFunc) {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		s.log.Warn("could not remove stop file", "path", path, "error", err)
	}
	s.log.Debug("stop file detected", "path", path)
	h(ShutdownRequested)
}

// scan returns the paths of regular files in dir whose names match.
func (s *FileSource) scan() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !s.matches(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(s.dir, e.Name()))
	}
	return out
}

func (s *FileSource) matches(name string) bool {
	base := filepath.Base(name)
	if paths.Reserved(base) {
		return false
	}
	ok, err := doublestar.Match(s.pattern, base)
	return err == nil && ok
}
