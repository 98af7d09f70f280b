package graph

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"discord-simulator/backend/internal/markov"
	apperrors "discord-simulator/backend/pkg/errors"
)

// Key layout. Variable-length parts are length prefixed so that no word can
// forge another entity's key.
//
//	n <entity> <word>            -> total_count (uint64, big endian)
//	e <entity> <source> <target> -> weight (uint64, big endian)
//	c <channel id>               -> Channel (JSON)
const (
	nodePrefix    byte = 'n'
	edgePrefix    byte = 'e'
	channelPrefix byte = 'c'
)

// BadgerConfig configures the embedded key-value backend
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path       string
	InMemory   bool
	SyncWrites bool
}

// BadgerStore keeps graphs in an embedded Badger database
type BadgerStore struct {
	db      *badger.DB
	timeout time.Duration
	logger  *zap.Logger
}

// badgerLogger adapts zap to Badger's logger interface
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// OpenBadger opens the database described by cfg
func OpenBadger(cfg BadgerConfig, opts Options) (*BadgerStore, error) {
	opts = opts.withDefaults()
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: opts.Logger.Named("badger").Sugar()})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	opts.Logger.Info("Badger word graph store ready", zap.String("path", cfg.Path), zap.Bool("in_memory", cfg.InMemory))
	return &BadgerStore{db: db, timeout: opts.Timeout, logger: opts.Logger}, nil
}

func (s *BadgerStore) fail(op, entityID string, err error) error {
	return storageError(op, entityID, s.timeout, err, func(err error) bool {
		return errors.Is(err, badger.ErrConflict)
	})
}

func appendPart(b []byte, part string) []byte {
	b = binary.AppendUvarint(b, uint64(len(part)))
	return append(b, part...)
}

func entityKeyPrefix(kind byte, entityID string) []byte {
	return appendPart([]byte{kind}, entityID)
}

func nodeKey(entityID, word string) []byte {
	return append(entityKeyPrefix(nodePrefix, entityID), word...)
}

func edgeKey(entityID, source, target string) []byte {
	return append(appendPart(entityKeyPrefix(edgePrefix, entityID), source), target...)
}

func channelKey(channelID string) []byte {
	return append([]byte{channelPrefix}, channelID...)
}

// readPart consumes one length-prefixed part
func readPart(b []byte) (string, []byte, error) {
	n, size := binary.Uvarint(b)
	if size <= 0 || uint64(len(b)-size) < n {
		return "", nil, fmt.Errorf("malformed key %q", b)
	}
	b = b[size:]
	return string(b[:n]), b[n:], nil
}

func encodeCount(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeCount(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("malformed count of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// scan visits every key under prefix. Values are only loaded when withValues
// is set.
func scan(txn *badger.Txn, prefix []byte, withValues bool, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = withValues
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var value []byte
		if withValues {
			var err error
			if value, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}

// Load implements Store
func (s *BadgerStore) Load(ctx context.Context, entityID string) (*markov.Graph, error) {
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	var nodes []markov.NodeRecord
	var edges []markov.EdgeRecord
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := entityKeyPrefix(nodePrefix, entityID)
		err := scan(txn, prefix, true, func(key, value []byte) error {
			total, err := decodeCount(value)
			if err != nil {
				return err
			}
			nodes = append(nodes, markov.NodeRecord{Word: string(key[len(prefix):]), Total: total})
			return nil
		})
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			return apperrors.NewUnknownEntity(entityID)
		}

		prefix = entityKeyPrefix(edgePrefix, entityID)
		err = scan(txn, prefix, true, func(key, value []byte) error {
			source, rest, err := readPart(key[len(prefix):])
			if err != nil {
				return err
			}
			weight, err := decodeCount(value)
			if err != nil {
				return err
			}
			edges = append(edges, markov.EdgeRecord{Source: source, Target: string(rest), Weight: weight})
			return nil
		})
		if err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, s.fail("load", entityID, err)
	}
	return markov.Restore(entityID, nodes, edges)
}

// Commit implements Store
func (s *BadgerStore) Commit(ctx context.Context, changes markov.ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	id := changes.EntityID
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, n := range changes.UpsertNodes {
			if err := txn.Set(nodeKey(id, n.Word), encodeCount(n.Total)); err != nil {
				return err
			}
		}
		for _, e := range changes.UpsertEdges {
			if err := txn.Set(edgeKey(id, e.Source, e.Target), encodeCount(e.Weight)); err != nil {
				return err
			}
		}
		for _, k := range changes.DeleteEdges {
			if err := txn.Delete(edgeKey(id, k.Source, k.Target)); err != nil {
				return err
			}
		}
		for _, word := range changes.DeleteNodes {
			if err := txn.Delete(nodeKey(id, word)); err != nil {
				return err
			}
		}
		// Returning an error here discards the whole transaction
		return ctx.Err()
	})
	return s.fail("commit", id, err)
}

// Delete implements Store
func (s *BadgerStore) Delete(ctx context.Context, entityID string) error {
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	err := s.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		for _, kind := range []byte{nodePrefix, edgePrefix} {
			err := scan(txn, entityKeyPrefix(kind, entityID), false, func(key, _ []byte) error {
				keys = append(keys, key)
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return ctx.Err()
	})
	return s.fail("delete", entityID, err)
}

// Entities implements Store
func (s *BadgerStore) Entities(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := call(ctx, s.timeout)
	defer cancel()

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte{nodePrefix}, false, func(key, _ []byte) error {
			entityID, word, err := readPart(key[1:])
			if err != nil {
				return err
			}
			if !bytes.Equal(word, []byte(markov.Start)) || !strings.HasPrefix(entityID, prefix) {
				return nil
			}
			ids = append(ids, entityID)
			return ctx.Err()
		})
	})
	if err != nil {
		return nil, s.fail("entities", "", err)
	}
	// Length prefixes order keys by id length first
	slices.Sort(ids)
	return ids, nil
}

// AddChannel implements ChannelRegistry
func (s *BadgerStore) AddChannel(ctx context.Context, channel Channel) (bool, error) {
	if channel.AddedAt.IsZero() {
		channel.AddedAt = time.Now()
	}
	value, err := json.Marshal(channel)
	if err != nil {
		return false, fmt.Errorf("encode channel: %w", err)
	}

	added := false
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(channelKey(channel.ID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		added = true
		if err := txn.Set(channelKey(channel.ID), value); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return false, s.fail("add channel", "", err)
	}
	return added, nil
}

// RemoveChannel implements ChannelRegistry
func (s *BadgerStore) RemoveChannel(ctx context.Context, channelID string) (bool, error) {
	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(channelKey(channelID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return txn.Delete(channelKey(channelID))
	})
	if err != nil {
		return false, s.fail("remove channel", "", err)
	}
	return removed, nil
}

// Channels implements ChannelRegistry
func (s *BadgerStore) Channels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte{channelPrefix}, true, func(_, value []byte) error {
			var c Channel
			if err := json.Unmarshal(value, &c); err != nil {
				return fmt.Errorf("decode channel: %w", err)
			}
			channels = append(channels, c)
			return ctx.Err()
		})
	})
	if err != nil {
		return nil, s.fail("channels", "", err)
	}
	return channels, nil
}

// Close implements Store
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
