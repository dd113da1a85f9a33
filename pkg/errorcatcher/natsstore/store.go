// Package natsstore keeps caught errors in a NATS JetStream key-value bucket.
package natsstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/config"
	"github.com/stats-agent/pkg/errorcatcher"
	"github.com/stats-agent/pkg/logger"
)

// Store is an errorcatcher.DocumentStore over one KV bucket.
type Store struct {
	nc      *nats.Conn
	kv      jetstream.KeyValue
	timeout time.Duration
	logger  *zap.Logger
	ownConn bool
}

// Open connects to cfg.URL and opens the bucket, creating it when missing.
// The connection is closed by Close.
func Open(ctx context.Context, cfg config.ErrorStoreConfig, l *zap.Logger) (*Store, error) {
	if l == nil {
		l = logger.Named("natsstore")
	}
	opts := []nats.Option{
		nats.Name("stats-agent"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn("error store disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("error store reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nats.Timeout(cfg.Timeout))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	s, err := New(ctx, nc, cfg.Bucket, cfg.Timeout, l)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.ownConn = true
	return s, nil
}

// New opens bucket on an existing connection.
func New(ctx context.Context, nc *nats.Conn, bucket string, timeout time.Duration, l *zap.Logger) (*Store, error) {
	if l == nil {
		l = logger.Named("natsstore")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	s := &Store{nc: nc, timeout: timeout, logger: l}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "caught errors",
			History:     1,
		})
		if err == nil {
			l.Info("error store bucket created", zap.String("bucket", bucket))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}
	s.kv = kv
	return s, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Store(ctx context.Context, doc errorcatcher.Document) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.kv.Put(ctx, doc.Key, doc.Data); err != nil {
		return fmt.Errorf("put %s: %w", doc.Key, err)
	}
	return nil
}

// Commit flushes the connection. A KV put is acknowledged by the server once
// persisted, so there is nothing else to wait for.
func (s *Store) Commit(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.nc.FlushWithContext(ctx)
}

func (s *Store) QueryAll(ctx context.Context) ([]errorcatcher.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]errorcatcher.Document, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			// deleted between listing and reading
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		docs = append(docs, errorcatcher.Document{Key: key, Data: entry.Value()})
	}
	return docs, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Close drains the connection when the store opened it.
func (s *Store) Close() error {
	if !s.ownConn {
		return nil
	}
	return s.nc.Drain()
}
