package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kabili207/contactindex/core"
	"github.com/kabili207/contactindex/core/contact"
	"github.com/kabili207/contactindex/core/notify"
	"github.com/kabili207/contactindex/device/addressbook"
	"github.com/kabili207/contactindex/transport"
	"github.com/kabili207/contactindex/transport/mqtt"
)

// app carries the resolved configuration between cobra hooks and runs.
type app struct {
	configPath string
	cfg        *FileConfig
	log        *slog.Logger

	// flag overrides
	storePath string
	ordering  string
	backend   string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "contactindex",
		Short:        "Index a contact document for sectioned browsing and phone lookup",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "contactindex.yaml", "path to the YAML configuration file")
	flags.StringVar(&a.storePath, "store", "", "path to the contact document (overrides store.path)")
	flags.StringVar(&a.ordering, "ordering", "", "sort ordering: first or last (overrides ordering)")
	flags.StringVar(&a.backend, "snapshot-backend", "", "snapshot backend: dir, badger or none")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.loadCmd(),
		a.sectionsCmd(),
		a.lookupCmd(),
		a.watchCmd(),
		a.resetCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	optional := !cmd.Flags().Changed("config")
	cfg, err := LoadFileConfig(a.configPath, optional)
	if err != nil {
		return err
	}
	if a.storePath != "" {
		cfg.Store.Path = a.storePath
	}
	if a.ordering != "" {
		cfg.Ordering = a.ordering
	}
	if a.backend != "" {
		cfg.Snapshot.Backend = a.backend
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	return nil
}

// withLoadedBook opens the engine, loads it and runs fn.
func (a *app) withLoadedBook(cmd *cobra.Command, fn func(b *addressbook.Book) error) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.book.LoadSync(ctx); err != nil {
		return err
	}
	return fn(e.book)
}

func (a *app) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load the document, refresh the snapshot and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLoadedBook(cmd, func(b *addressbook.Book) error {
				c := b.Counters()
				fmt.Fprintf(cmd.OutOrStdout(), "%d contacts in %d sections, %d without phone (restored=%t)\n",
					b.ContactsCount(), len(b.SectionKeys()), len(b.ContactsWithoutPhone()), c.Restores > 0)
				return nil
			})
		},
	}
}

func (a *app) sectionsCmd() *cobra.Command {
	var (
		indexName string
		showIDs   bool
	)
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "List section keys and their sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLoadedBook(cmd, func(b *addressbook.Book) error {
				keys, bucket := b.SectionKeys(), b.ContactIDs
				if indexName != "" {
					keys = b.IndexKeys(indexName)
					if keys == nil {
						return fmt.Errorf("unknown or empty index %q", indexName)
					}
					bucket = func(key string) []core.RecordID { return b.Bucket(indexName, key) }
				}
				out := cmd.OutOrStdout()
				for _, key := range keys {
					ids := bucket(key)
					if showIDs {
						fmt.Fprintf(out, "%s\t%d\t%s\n", key, len(ids), joinIDs(ids))
					} else {
						fmt.Fprintf(out, "%s\t%d\n", key, len(ids))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&indexName, "index", "", "index to list: by-first-name, by-last-name or by-phone")
	cmd.Flags().BoolVar(&showIDs, "ids", false, "print the ids in each section")
	return cmd
}

func (a *app) lookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up a contact",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "id <record-id>",
		Short: "Look up a contact by record id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseRecordID(args[0])
			if err != nil {
				return err
			}
			return a.withLoadedBook(cmd, func(b *addressbook.Book) error {
				c, ok := b.ContactForID(id)
				return printContact(cmd.OutOrStdout(), c, ok)
			})
		},
	}, &cobra.Command{
		Use:   "phone <number>",
		Short: "Look up a contact by phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLoadedBook(cmd, func(b *addressbook.Book) error {
				c, ok := b.ContactForPhoneNumber(args[0])
				return printContact(cmd.OutOrStdout(), c, ok)
			})
		},
	})
	return cmd
}

var errNoMatch = errors.New("no matching contact")

func printContact(w io.Writer, c *contact.Contact, ok bool) error {
	if !ok {
		return errNoMatch
	}
	fmt.Fprintf(w, "%d\t%s\tsource=%d\t%s\n", c.ID, c.DisplayName(), c.SourceID, strings.Join(c.Phones, ","))
	return nil
}

func joinIDs(ids []core.RecordID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(a.cfg, a.log)
			if err != nil {
				return err
			}
			if archive == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "snapshots disabled, nothing to reset")
				return nil
			}
			err = archive.DeleteArchive()
			if cerr := archive.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "snapshot deleted")
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the index current and publish change events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx)
		},
	}
}

func (a *app) watch(ctx context.Context) error {
	e, err := openEngine(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer e.Close()
	book := e.book

	book.Subscribe(notify.Funcs{
		OnLoadEnd: func(success bool) {
			a.log.Info("load finished", "success", success, "contacts", book.ContactsCount())
		},
		OnInsert: func(id core.RecordID) { a.log.Debug("contact filed", "id", id) },
		OnRemove: func(id core.RecordID) { a.log.Debug("contact removed", "id", id) },
	})

	if a.cfg.MQTT.Broker != "" {
		pub, err := a.startPublisher(ctx, book)
		if err != nil {
			return err
		}
		defer pub.Stop()
	}

	if a.cfg.Metrics.Addr != "" {
		srv := a.startMetrics(book)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := book.LoadSync(ctx); err != nil {
		return err
	}
	if err := e.store.Watch(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.log.Info("shutting down")
	return nil
}

func (a *app) startPublisher(ctx context.Context, book *addressbook.Book) (*mqtt.Publisher, error) {
	m := a.cfg.MQTT
	pub := mqtt.New(mqtt.Config{
		Broker:      m.Broker,
		Username:    m.Username,
		Password:    m.Password,
		UseTLS:      m.UseTLS,
		ClientID:    m.ClientID,
		TopicPrefix: m.TopicPrefix,
		BookID:      m.BookID,
		QueueSize:   m.QueueSize,
		Logger:      a.log,
	})
	pub.SetCommandHandler(func(cmd transport.Command) {
		if err := applyCommand(ctx, book, cmd); err != nil {
			a.log.Warn("command failed", "op", cmd.Op, "id", cmd.ID, "error", err)
		}
	})
	pub.SetStateHandler(func(_ transport.Publisher, event transport.Event) {
		a.log.Debug("publisher state", "event", event)
	})
	book.Subscribe(pub)
	if err := pub.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting MQTT publisher: %w", err)
	}
	return pub, nil
}

func (a *app) startMetrics(book *addressbook.Book) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(addressbook.NewCollector(book))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", "error", err)
		}
	}()
	a.log.Info("serving metrics", "addr", srv.Addr)
	return srv
}
