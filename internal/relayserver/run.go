package relayserver

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/edgefn/gemini-relay/internal/config"
	"github.com/edgefn/gemini-relay/internal/credstore"
	"github.com/edgefn/gemini-relay/internal/logx"
	"github.com/edgefn/gemini-relay/internal/relay"
)

func Run(cfgPath string) error {
	startedAt := time.Now().Unix()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	accessLog, accessClose, accessColor, err := openAccessLogger(cfg)
	if err != nil {
		return fmt.Errorf("init access log: %w", err)
	}
	if accessClose != nil {
		defer func() { _ = accessClose.Close() }()
	}

	pidCleanup, err := writePIDFile(cfg)
	if err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if pidCleanup != nil {
		defer func() { _ = pidCleanup.Close() }()
	}

	key, err := credstore.Resolve(cfg.Upstream.Key, cfg.Upstream.KeyFile)
	if err != nil {
		return fmt.Errorf("resolve upstream credential: %w", err)
	}
	if key == "" {
		// Boot anyway: the secret may be injected later; every request
		// fails closed with a configuration error until it appears.
		log.Printf("warning: upstream credential is not configured; requests will fail until it is")
	}

	st := &state{}
	st.SetUpstreamKey(key)
	st.SetStartedAtUnix(startedAt)

	client := &relay.Client{
		HTTP:    &http.Client{Timeout: time.Duration(cfg.Upstream.TimeoutMs) * time.Millisecond},
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: time.Duration(cfg.Upstream.TimeoutMs) * time.Millisecond,
	}

	installReloadSignalHandler(cfg, st)
	stopWatch, err := installKeyFileWatcher(cfg, st)
	if err != nil {
		log.Printf("key file watcher disabled: %v", err)
	} else if stopWatch != nil {
		defer stopWatch()
	}

	engine := NewRouter(cfg, st, client, accessLog, accessColor)

	log.Printf("gemini-relay listening on %s (model=%s)", cfg.Server.Listen, cfg.Upstream.Model)
	if err := engine.Run(cfg.Server.Listen); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func openAccessLogger(cfg *config.Config) (*log.Logger, io.Closer, bool, error) {
	if cfg == nil || cfg.Logging.DisableAccessLog {
		return nil, nil, false, nil
	}

	path := strings.TrimSpace(cfg.Logging.AccessLogPath)
	if path == "" {
		return log.New(os.Stdout, "", log.LstdFlags), nil, logx.StdoutColor(), nil
	}

	dir := filepath.Dir(path)
	if strings.TrimSpace(dir) != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, false, err
		}
	}
	// #nosec G304 -- access_log_path comes from trusted config.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, false, err
	}
	return log.New(f, "", log.LstdFlags), f, false, nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func writePIDFile(cfg *config.Config) (io.Closer, error) {
	if cfg == nil {
		return nil, nil
	}
	path := strings.TrimSpace(cfg.Server.PidFile)
	if path == "" {
		return nil, nil
	}
	dir := filepath.Dir(path)
	if strings.TrimSpace(dir) != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}

	tmp := path + ".tmp"
	pid := strconv.Itoa(os.Getpid()) + "\n"
	// #nosec G304 -- pid_file comes from trusted config.
	if err := os.WriteFile(tmp, []byte(pid), 0o600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return closerFunc(func() error { return os.Remove(path) }), nil
}

func installReloadSignalHandler(cfg *config.Config, st *state) {
	if cfg == nil || st == nil {
		return
	}
	var mu sync.Mutex
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		for range ch {
			mu.Lock()
			err := reloadCredential(cfg, st)
			mu.Unlock()
			if err != nil {
				log.Printf("credential reload failed: %v", err)
				continue
			}
			log.Printf("credential reload ok")
		}
	}()
}

// installKeyFileWatcher reloads the credential when the key file changes
// on disk, so secret rotation needs no signal and no restart.
func installKeyFileWatcher(cfg *config.Config, st *state) (func(), error) {
	path := strings.TrimSpace(cfg.Upstream.KeyFile)
	if path == "" {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors and secret mounts replace the file,
	// which drops a watch set on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := reloadCredential(cfg, st); err != nil {
					log.Printf("credential reload failed (fsnotify): %v", err)
					continue
				}
				log.Printf("credential reload ok (key file changed)")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("key file watcher error: %v", err)
			}
		}
	}()
	return func() { _ = w.Close() }, nil
}

func reloadCredential(cfg *config.Config, st *state) error {
	key, err := credstore.Resolve(cfg.Upstream.Key, cfg.Upstream.KeyFile)
	if err != nil {
		return err
	}
	st.SetUpstreamKey(key)
	return nil
}
