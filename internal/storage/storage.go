// Package storage keeps channel snapshots in a JSON file that is saved
// periodically and on Close.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keshon/chatmind/internal/mind"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("storage is closed")

// Config holds configuration options for the Store.
type Config struct {
	FilePath         string
	AutoSaveInterval time.Duration
	BackupCount      int // number of backup files to keep
	Logger           *zap.Logger
}

// DefaultConfig returns a 10s autosave with three backups.
func DefaultConfig(filePath string) Config {
	return Config{
		FilePath:         filePath,
		AutoSaveInterval: 10 * time.Second,
		BackupCount:      3,
	}
}

type document struct {
	Channels map[string]mind.ChannelSnapshot `json:"channels"`
}

// Store implements mind.StateStore.
type Store struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu           sync.RWMutex
	channels     map[string]mind.ChannelSnapshot
	lastChecksum string
	closed       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open loads cfg.FilePath, creating it when missing, and starts autosave.
func Open(cfg Config) (*Store, error) {
	if cfg.FilePath == "" {
		return nil, errors.New("file path cannot be empty")
	}
	if cfg.AutoSaveInterval <= 0 {
		cfg.AutoSaveInterval = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	s := &Store{
		cfg:      cfg,
		log:      log.With(zap.String("component", "storage"), zap.String("file", cfg.FilePath)),
		now:      time.Now,
		channels: make(map[string]mind.ChannelSnapshot),
	}
	switch _, err := os.Stat(cfg.FilePath); {
	case errors.Is(err, os.ErrNotExist):
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("failed to create store file: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to check file existence: %w", err)
	default:
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.autoSave(ctx)
	return s, nil
}

// LoadChannel returns the saved snapshot of a channel.
func (s *Store) LoadChannel(channelID string) (mind.ChannelSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.channels[channelID]
	return snap, ok
}

// SaveChannel records a snapshot in memory; it reaches disk on the next save.
// Empty snapshots remove the channel.
func (s *Store) SaveChannel(channelID string, snap mind.ChannelSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if snap == (mind.ChannelSnapshot{}) {
		delete(s.channels, channelID)
		return nil
	}
	s.channels[channelID] = snap
	return nil
}

// Len returns the number of stored channels.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// Flush forces an immediate save.
func (s *Store) Flush() error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return s.save()
}

// Close stops autosave and writes the final state.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return s.save()
}

func (s *Store) autoSave(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.prune(s.now()); n > 0 {
				s.log.Debug("pruned idle channels", zap.Int("count", n))
			}
			if err := s.save(); err != nil {
				s.log.Warn("auto-save failed", zap.Error(err))
			}
		}
	}
}

// prune drops snapshots that only carried a panic window which has passed.
func (s *Store) prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, snap := range s.channels {
		if snap.HistoryMarker == "" && !snap.PanicUntil.After(now) {
			delete(s.channels, id)
			n++
		}
	}
	return n
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.cfg.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON format: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.Channels != nil {
		s.channels = doc.Channels
	}
	s.lastChecksum = checksum(data)
	s.log.Info("loaded channel state", zap.Int("channels", len(s.channels)))
	return nil
}

// save writes the store when it changed since the last save.
func (s *Store) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(document{Channels: s.channels}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	sum := checksum(data)
	if sum == s.lastChecksum {
		return nil
	}

	if s.cfg.BackupCount > 0 {
		if err := backup(s.cfg.FilePath, s.cfg.BackupCount, s.now()); err != nil {
			s.log.Warn("failed to create backup", zap.Error(err))
		}
	}
	if err := writeFileAtomic(s.cfg.FilePath, data); err != nil {
		return err
	}
	if err := verifyFile(s.cfg.FilePath, sum); err != nil {
		return fmt.Errorf("file verification failed: %w", err)
	}
	s.lastChecksum = sum
	return nil
}
