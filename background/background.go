// Package background is the extension-wide half of morph: it owns the
// persisted settings, answers runtime messages from watchers and clients,
// validates API keys, tracks the toolbar icon state and fans detections
// out to event-stream subscribers.
package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/morph/internal/history"
	"github.com/hazyhaar/morph/internal/secret"
	"github.com/hazyhaar/morph/message"
	"github.com/hazyhaar/morph/settings"
)

// DefaultModelsURL is queried to validate an API key.
const DefaultModelsURL = "https://api.openai.com/v1/models"

// apiKeyField is the settings field sealed at rest.
const apiKeyField = "openaiApiKey"

// ErrUnknownMessage is returned for message types the background does not
// answer.
var ErrUnknownMessage = errors.New("background: unknown message type")

// Store persists the settings object. *storage.Store satisfies it.
type Store interface {
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) (int64, error)
}

// Replies, shaped like the runtime responses clients expect.
type (
	Received struct {
		Received bool `json:"received"`
	}
	Success struct {
		Success bool `json:"success"`
	}
	KeyCheck struct {
		IsValid bool `json:"isValid"`
	}
	Toggled struct {
		Enabled bool `json:"enabled"`
	}
)

// Options configures a Service.
type Options struct {
	// ModelsURL is fetched with the key as bearer token. Default:
	// DefaultModelsURL.
	ModelsURL string
	// Client for API key validation. Default: 10s timeout.
	Client *http.Client
	// Sealer protects the API key at rest. nil stores it in clear.
	Sealer *secret.Sealer
	Hub    *Hub
	// History records detections. nil keeps none.
	History *history.Log
	Logger  *slog.Logger
}

func (o *Options) defaults() {
	if o.ModelsURL == "" {
		o.ModelsURL = DefaultModelsURL
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Hub == nil {
		o.Hub = NewHub(o.Logger)
	}
}

// Service is the background service.
type Service struct {
	store  Store
	opts   Options
	hub    *Hub
	logger *slog.Logger

	// mu serialises read-modify-write cycles on the stored object.
	mu   sync.Mutex
	icon atomic.Pointer[Icon]

	detections atomic.Int64
}

// New creates a Service over store.
func New(store Store, opts Options) *Service {
	opts.defaults()
	s := &Service{store: store, opts: opts, hub: opts.Hub, logger: opts.Logger}
	icon := IconFor(true)
	s.icon.Store(&icon)
	return s
}

// Hub returns the event hub detections are broadcast on.
func (s *Service) Hub() *Hub { return s.hub }

// DetectionCount returns the number of QUESTION_DETECTED messages received.
func (s *Service) DetectionCount() int64 { return s.detections.Load() }

// Detections queries the detection history. Without one it returns an
// empty list.
func (s *Service) Detections(ctx context.Context, f history.Filter) ([]history.Entry, error) {
	if s.opts.History == nil {
		return []history.Entry{}, nil
	}
	return s.opts.History.Query(ctx, f)
}

// HandleMessage answers one runtime message.
func (s *Service) HandleMessage(ctx context.Context, msg message.Message) (any, error) {
	switch msg.Type {
	case message.QuestionDetected:
		s.detections.Add(1)
		s.logger.Info("background: question detected",
			"detection_id", msg.ID, "page_id", msg.PageID, "text", msg.Text)
		if s.opts.History != nil {
			s.opts.History.Record(msg)
		}
		s.hub.Broadcast(msg)
		return Received{Received: true}, nil

	case message.GetSettings:
		return s.Settings(ctx)

	case message.UpdateSettings:
		if err := s.UpdateSettings(ctx, msg.Settings); err != nil {
			return nil, err
		}
		return Success{Success: true}, nil

	case message.TestAPIKey:
		return KeyCheck{IsValid: s.ValidateAPIKey(ctx, msg.APIKey)}, nil

	case message.Toggle:
		enabled, err := s.Toggle(ctx)
		if err != nil {
			return nil, err
		}
		return Toggled{Enabled: enabled}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
}

// Install writes the default settings when none are stored yet and
// reports whether it did.
func (s *Service) Install(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.store.Lookup(ctx, settings.StorageKey)
	if err != nil {
		return false, fmt.Errorf("background: install: %w", err)
	}
	if ok {
		return false, nil
	}
	data, err := json.Marshal(settings.Defaults())
	if err != nil {
		return false, fmt.Errorf("background: install: %w", err)
	}
	if _, err := s.store.Set(ctx, settings.StorageKey, data); err != nil {
		return false, fmt.Errorf("background: install: %w", err)
	}
	s.logger.Info("background: default settings initialized")
	return true, nil
}

// Settings returns the stored object with the API key opened, or {} when
// nothing is stored.
func (s *Service) Settings(ctx context.Context) (json.RawMessage, error) {
	obj, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if raw, ok := obj[apiKeyField]; ok {
		var key string
		if json.Unmarshal(raw, &key) == nil && secret.IsSealed(key) {
			plain, err := s.opts.Sealer.Open(key)
			if err != nil {
				s.logger.Warn("background: cannot open stored api key", "error", err)
				plain = ""
			}
			obj[apiKeyField], _ = json.Marshal(plain)
		}
	}
	return json.Marshal(obj)
}

// UpdateSettings replaces the stored object with raw, which must be a JSON
// object. The API key is sealed before it is written.
func (s *Service) UpdateSettings(ctx context.Context, raw json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return fmt.Errorf("background: update settings: want a JSON object")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(ctx, obj); err != nil {
		return err
	}
	s.setIcon(enabledOf(obj))
	return nil
}

// Toggle flips the stored enabled flag, updates the icon and tells
// subscribers. A missing flag counts as enabled. It returns the new state.
func (s *Service) Toggle(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	enabled := !enabledOf(obj)
	obj["enabled"], _ = json.Marshal(enabled)
	if err := s.save(ctx, obj); err != nil {
		return false, err
	}
	s.setIcon(enabled)

	delete(obj, apiKeyField)
	public, _ := json.Marshal(obj)
	s.hub.Broadcast(message.Message{Type: message.SettingsUpdated, Settings: public})
	s.logger.Info("background: toggled", "enabled", enabled)
	return enabled, nil
}

// ValidateAPIKey reports whether the models endpoint accepts key. Any
// transport error or non-2xx status is false.
func (s *Service) ValidateAPIKey(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.ModelsURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		s.logger.Warn("background: api key check failed", "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Follow keeps the icon in step with settings written by anyone, until
// ctx is done. *storage.Store satisfies settings.Feed.
func (s *Service) Follow(ctx context.Context, feed settings.Feed) error {
	if err := s.syncIcon(ctx); err != nil {
		s.logger.Warn("background: initial icon state", "error", err)
	}
	return feed.Watch(ctx, func(key string, value []byte) {
		if key != settings.StorageKey {
			return
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(value, &obj); err != nil {
			return
		}
		s.setIcon(enabledOf(obj))
	})
}

func (s *Service) syncIcon(ctx context.Context) error {
	obj, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.setIcon(enabledOf(obj))
	return nil
}

func (s *Service) load(ctx context.Context) (map[string]json.RawMessage, error) {
	raw, ok, err := s.store.Lookup(ctx, settings.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("background: load settings: %w", err)
	}
	obj := make(map[string]json.RawMessage)
	if !ok {
		return obj, nil
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		s.logger.Warn("background: stored settings are not an object, ignoring")
		return make(map[string]json.RawMessage), nil
	}
	return obj, nil
}

func (s *Service) save(ctx context.Context, obj map[string]json.RawMessage) error {
	if raw, ok := obj[apiKeyField]; ok {
		var key string
		if json.Unmarshal(raw, &key) == nil {
			sealed, err := s.opts.Sealer.Seal(key)
			if err != nil {
				return fmt.Errorf("background: seal api key: %w", err)
			}
			obj[apiKeyField], _ = json.Marshal(sealed)
		}
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("background: save settings: %w", err)
	}
	if _, err := s.store.Set(ctx, settings.StorageKey, data); err != nil {
		return fmt.Errorf("background: save settings: %w", err)
	}
	return nil
}

// enabledOf reads the enabled flag; anything but an explicit false is on.
func enabledOf(obj map[string]json.RawMessage) bool {
	var on bool
	if raw, ok := obj["enabled"]; ok && json.Unmarshal(raw, &on) == nil {
		return on
	}
	return true
}
