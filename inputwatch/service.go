package inputwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/morph/idgen"
	"github.com/hazyhaar/morph/internal/browser"
	"github.com/hazyhaar/morph/internal/cdpdoc"
	"github.com/hazyhaar/morph/internal/config"
)

// Service runs one Watcher per configured page inside a shared Chrome.
type Service struct {
	cfg      *config.Config
	mgr      *browser.Manager
	settings SettingsSource
	notify   Publisher
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session // keyed by page ID
}

type session struct {
	id      string
	page    config.PageConfig
	tab     *browser.Tab
	doc     *cdpdoc.Document
	watcher *Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// SessionInfo describes one watched page.
type SessionInfo struct {
	Session string `json:"session"`
	PageID  string `json:"page_id"`
	URL     string `json:"url"`
	Stats   Stats  `json:"stats"`
}

// NewService creates a Service. Call Start to launch the browser.
func NewService(cfg *Config, settings SettingsSource, notify Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          browser.ParseLevel(cfg.Browser.Stealth),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	return &Service{
		cfg:      cfg,
		mgr:      mgr,
		settings: settings,
		notify:   notify,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Start launches the browser and attaches a watcher to every configured
// page. A page that fails to open is logged and skipped.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.mgr.Start(ctx); err != nil {
		return fmt.Errorf("inputwatch: start browser: %w", err)
	}
	s.mgr.OnRecycle(func(*rod.Browser) { s.reattach(ctx) })

	for _, p := range s.cfg.Pages {
		if err := s.WatchPage(ctx, p); err != nil {
			s.logger.Error("inputwatch: failed to watch page", "url", p.URL, "error", err)
		}
	}
	return nil
}

// WatchPage opens a tab on p.URL and starts watching its inputs. Watching
// an ID already watched replaces the previous session.
func (s *Service) WatchPage(ctx context.Context, p PageConfig) error {
	if p.ID == "" {
		p.ID = p.URL
	}
	s.Unwatch(p.ID)

	tab, err := browser.OpenTab(ctx, s.mgr, p.URL, p.ID, browser.ParseLevel(p.StealthLevel))
	if err != nil {
		return fmt.Errorf("inputwatch: open tab: %w", err)
	}
	doc, err := cdpdoc.Open(ctx, tab.Page, s.logger)
	if err != nil {
		tab.Close()
		return fmt.Errorf("inputwatch: attach document: %w", err)
	}

	sess := &session{
		id:   idgen.Session(),
		page: p,
		tab:  tab,
		doc:  doc,
		done: make(chan struct{}),
	}
	sess.watcher = NewWatcher(WatcherConfig{
		Document: doc,
		Settings: s.settings,
		Notify:   s.notify,
		PageID:   p.ID,
		PageURL:  p.URL,
		Logger:   s.logger.With("session", sess.id),
	})

	runCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel
	go func() {
		defer close(sess.done)
		sess.watcher.Run(runCtx)
	}()

	s.mu.Lock()
	s.sessions[p.ID] = sess
	s.mu.Unlock()

	s.logger.Info("inputwatch: watching page", "url", p.URL, "page_id", p.ID, "session", sess.id)
	return nil
}

// Unwatch stops the watcher for pageID and closes its tab. It reports
// whether the page was being watched.
func (s *Service) Unwatch(pageID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[pageID]
	delete(s.sessions, pageID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.stop()
	return true
}

// Sessions lists the watched pages sorted by page ID.
func (s *Service) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, SessionInfo{
			Session: sess.id,
			PageID:  sess.page.ID,
			URL:     sess.page.URL,
			Stats:   sess.watcher.Stats(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out
}

// Stop detaches every watcher and shuts the browser down.
func (s *Service) Stop() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for id, sess := range sessions {
		sess.stop()
		s.logger.Info("inputwatch: stopped watcher", "page_id", id)
	}
	s.mgr.Close()
}

// reattach runs after a browser recycle: the old tabs are gone, so every
// page gets a fresh tab and watcher.
func (s *Service) reattach(ctx context.Context) {
	s.mu.Lock()
	pages := make([]config.PageConfig, 0, len(s.sessions))
	for _, sess := range s.sessions {
		pages = append(pages, sess.page)
	}
	s.mu.Unlock()

	for _, p := range pages {
		if err := s.WatchPage(ctx, p); err != nil {
			s.logger.Error("inputwatch: reattach failed", "url", p.URL, "error", err)
		}
	}
}

func (sess *session) stop() {
	sess.cancel()
	<-sess.done
	sess.doc.Close()
	sess.tab.Close()
}
