// Copyright © 2020 Elias Norberg
// Licensed under the GPLv3 or later.
// See COPYING at the root of the repository for details.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	_ "github.com/gfreezy/meli/backend/imap"
	_ "github.com/gfreezy/meli/backend/mbox"
	_ "github.com/gfreezy/meli/backend/notmuch"

	"github.com/gfreezy/meli/backend"
	"github.com/gfreezy/meli/internal/event"
	"github.com/hashicorp/go-hclog"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v2"
)

// mailcored hosts one or more backends from a YAML config file, fetches
// every configured mailbox once, then runs each backend's watcher until
// interrupted. It generalizes the teacher's IMAP-only main loop over
// backend kind instead of hardcoding IMAP.
func main() {
	configPath := flag.String("config", filepath.Join(userHomeDir(), ".config", "mailcored", "config.yml"), "path to config.yml")
	flag.Parse()

	log := hclog.New(&hclog.LoggerOptions{Name: "mailcored"})

	cfgData, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read config file %q: %s\n", *configPath, err)
		os.Exit(1)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "cannot parse config file %q: %s\n", *configPath, err)
		os.Exit(1)
	}

	accounts, err := cfg.toAccounts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %s\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	consumer := event.ConsumerFunc(func(e event.Event) {
		log.Info("refresh event", "kind", e.Kind.String(), "mailbox", e.Mailbox.String())
	})

	var wg sync.WaitGroup
	for _, account := range accounts {
		b, err := backend.New(account, consumer)
		if err != nil {
			log.Error("cannot construct backend", "account", account.Name, "error", err)
			continue
		}
		wg.Add(1)
		go func(name string, b backend.MailBackend) {
			defer wg.Done()
			runAccount(ctx, log, name, b)
		}(account.Name, b)
	}
	wg.Wait()
}

// onlineReporter is implemented by backends that track the uid_store's
// is_online field (spec §3); currently only backend/imap.
type onlineReporter interface {
	IsOnline() bool
}

// logOnlineTransitions polls reporter and logs only on a state change,
// so a healthy connection stays quiet.
func logOnlineTransitions(ctx context.Context, log hclog.Logger, name string, reporter onlineReporter) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	last := reporter.IsOnline()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := reporter.IsOnline()
			if online != last {
				log.Info("connectivity changed", "account", name, "online", online)
				last = online
			}
		}
	}
}

func runAccount(ctx context.Context, log hclog.Logger, name string, b backend.MailBackend) {
	defer b.Close()

	if reporter, ok := b.(onlineReporter); ok {
		go logOnlineTransitions(ctx, log, name, reporter)
	}

	for _, mb := range b.Mailboxes().All() {
		progress := progressbar.NewOptions(-1, progressbar.OptionSetDescription(name+"/"+mb.Name))
		for result := range b.Fetch(ctx, mb.Hash) {
			if result.Err != nil {
				log.Error("fetch failed", "account", name, "mailbox", mb.Name, "error", result.Err)
				break
			}
			progress.Add(len(result.Batch))
		}
		progress.Finish()
	}

	w, err := b.Watcher()
	if err != nil {
		log.Warn("no watcher available", "account", name, "error", err)
		return
	}
	if err := w.Run(ctx); err != nil {
		log.Error("watcher exited", "account", name, "error", err)
	}
}
