// Package storage persists the tailer's durable state: the per-thread
// seen-history and the session cookie snapshot. State lives either in
// local files or in a Cloud Storage bucket.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"sa-tail/pkg/forum"
)

// Store reads and writes the two state artifacts. When client is nil the
// paths are local files; otherwise they are object names in bucket.
type Store struct {
	client      *storage.Client
	logger      *slog.Logger
	bucket      string
	historyPath string
	sessionPath string
}

// NewLocal creates a store backed by local files.
func NewLocal(historyPath, sessionPath string, logger *slog.Logger) *Store {
	return &Store{
		logger:      logger,
		historyPath: historyPath,
		sessionPath: sessionPath,
	}
}

// NewBucket creates a store backed by a Cloud Storage bucket.
func NewBucket(client *storage.Client, bucket, historyKey, sessionKey string, logger *slog.Logger) *Store {
	return &Store{
		client:      client,
		logger:      logger,
		bucket:      bucket,
		historyPath: historyKey,
		sessionPath: sessionKey,
	}
}

// IsNotFound reports whether an error means the artifact does not exist
// yet, which is normal on first run.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrObjectNotExist)
}

// LoadHistory loads the seen-history. A missing artifact yields an empty
// history, not an error.
func (s *Store) LoadHistory(ctx context.Context) (forum.History, error) {
	data, err := s.load(ctx, s.historyPath)
	if err != nil {
		if IsNotFound(err) {
			s.logger.Debug("No history yet", "path", s.historyPath)
			return forum.History{}, nil
		}
		return nil, err
	}

	var history forum.History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return history, nil
}

// SaveHistory persists the seen-history.
func (s *Store) SaveHistory(ctx context.Context, history forum.History) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := s.save(ctx, s.historyPath, data); err != nil {
		return err
	}
	s.logger.Debug("History saved", "path", s.historyPath, "threads", len(history))
	return nil
}

// LoadSession loads the raw session cookie snapshot.
func (s *Store) LoadSession(ctx context.Context) ([]byte, error) {
	return s.load(ctx, s.sessionPath)
}

// SaveSession persists the raw session cookie snapshot.
func (s *Store) SaveSession(ctx context.Context, data []byte) error {
	if err := s.save(ctx, s.sessionPath, data); err != nil {
		return err
	}
	s.logger.Debug("Session snapshot saved", "path", s.sessionPath)
	return nil
}

func (s *Store) load(ctx context.Context, key string) ([]byte, error) {
	// Local filesystem storage
	if s.client == nil {
		data, err := os.ReadFile(key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			read, readErr := io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			data = read
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

func (s *Store) save(ctx context.Context, key string, data []byte) error {
	// Local filesystem storage; cookie snapshots are credentials, keep
	// them owner-only.
	if s.client == nil {
		if err := os.WriteFile(key, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}
