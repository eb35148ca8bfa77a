package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/device/addressbook"
	"github.com/kabili207/contactindex/device/recordstore"
	"github.com/kabili207/contactindex/device/snapshot"
	"github.com/kabili207/contactindex/transport"
)

// engine bundles a file store with the address book built over it.
type engine struct {
	store *recordstore.File
	book  *addressbook.Book
}

func openArchive(cfg *FileConfig, logger *slog.Logger) (*snapshot.Archiver, error) {
	var store snapshot.Store
	switch cfg.Snapshot.Backend {
	case BackendNone:
		return nil, nil
	case BackendBadger:
		bs, err := snapshot.OpenBadger(snapshot.BadgerConfig{
			Path:       cfg.Snapshot.BadgerPath,
			SyncWrites: cfg.Snapshot.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening snapshot database: %w", err)
		}
		store = bs
	default:
		ds, err := snapshot.NewDirStore(cfg.Snapshot.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot directory: %w", err)
		}
		store = ds
	}
	return snapshot.NewArchiver(store, snapshot.ArchiverConfig{Logger: logger}), nil
}

// openEngine builds and starts the book. The caller must Close it.
func openEngine(ctx context.Context, cfg *FileConfig, logger *slog.Logger) (*engine, error) {
	ordering, err := cfg.SortOrdering()
	if err != nil {
		return nil, err
	}
	archive, err := openArchive(cfg, logger)
	if err != nil {
		return nil, err
	}

	store := recordstore.NewFile(recordstore.FileConfig{
		Path:     cfg.Store.Path,
		Debounce: cfg.Store.Debounce,
		Logger:   logger,
	})
	book := addressbook.New(store, addressbook.Config{
		SortOrdering:   ordering,
		PhoneCacheSize: cfg.PhoneCacheSize,
		Archive:        archive,
		ReloadOnChange: cfg.Reload(),
		Logger:         logger,
	})
	book.SetOnError(func(err error) {
		logger.Debug("address book error", "error", err)
	})
	book.Start(ctx)
	return &engine{store: store, book: book}, nil
}

func (e *engine) Close() error {
	return e.book.Close()
}

// commandTarget is the part of the book remote commands drive.
type commandTarget interface {
	Insert(ctx context.Context, id core.RecordID) error
	Delete(ctx context.Context, id core.RecordID) error
	Reindex(ctx context.Context, id core.RecordID) error
	Reload(ctx context.Context) error
}

var _ commandTarget = (*addressbook.Book)(nil)

func applyCommand(ctx context.Context, t commandTarget, cmd transport.Command) error {
	switch cmd.Op {
	case transport.OpInsert:
		return t.Insert(ctx, cmd.ID)
	case transport.OpDelete:
		return t.Delete(ctx, cmd.ID)
	case transport.OpReindex:
		return t.Reindex(ctx, cmd.ID)
	case transport.OpReload:
		return t.Reload(ctx)
	default:
		return errors.New("unknown command op " + cmd.Op)
	}
}
