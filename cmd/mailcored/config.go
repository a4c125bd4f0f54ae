// Copyright © 2020 Elias Norberg
// Licensed under the GPLv3 or later.
// See COPYING at the root of the repository for details.
package main

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gfreezy/meli/internal/mailbox"
	"github.com/gfreezy/meli/settings"
)

// fileConfig is the on-disk YAML shape this host reads. mailcore's
// settings package only defines the validated value type the core
// consumes; no file I/O lives there, so that parsing lives here
// instead, in the one binary that needs it.
type fileConfig struct {
	Accounts map[string]accountConfig
}

type accountConfig struct {
	Kind     string `yaml:"kind"`
	Identity string `yaml:"identity"`
	Root     string `yaml:"root"`

	Server      string `yaml:"server"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	UseTLS      bool   `yaml:"use_tls"`
	UseStartTLS bool   `yaml:"use_starttls"`

	PollingPeriodSeconds int    `yaml:"polling_period_seconds"`
	DisableIDLE          bool   `yaml:"disable_idle"`
	OfflineCachePath     string `yaml:"offline_cache_path"`

	Mailboxes map[string]mailboxConfig `yaml:"mailboxes"`
}

type mailboxConfig struct {
	Path       string `yaml:"path"`
	Query      string `yaml:"query"`
	SpecialUse string `yaml:"special_use"`
	Subscribe  bool   `yaml:"subscribe"`

	Extra map[string]string `yaml:"extra"`
}

func specialUseOf(s string) mailbox.SpecialUse {
	switch strings.ToLower(s) {
	case "inbox":
		return mailbox.Inbox
	case "archive":
		return mailbox.Archive
	case "drafts":
		return mailbox.Drafts
	case "flagged":
		return mailbox.Flagged
	case "junk":
		return mailbox.Junk
	case "sent":
		return mailbox.Sent
	case "trash":
		return mailbox.Trash
	default:
		return mailbox.Normal
	}
}

// toAccounts converts the parsed YAML into validated settings.Account
// values, one per configured account name.
func (c fileConfig) toAccounts() ([]settings.Account, error) {
	accounts := make([]settings.Account, 0, len(c.Accounts))
	for name, ac := range c.Accounts {
		a := settings.Account{
			Name:            name,
			Identity:        ac.Identity,
			RootMailboxPath: parsePathSetting(ac.Root),
			Kind:            settings.BackendKind(ac.Kind),
		}

		for mbName, mb := range ac.Mailboxes {
			a.Mailboxes = append(a.Mailboxes, settings.MailboxSettings{
				Name:       mbName,
				Path:       mb.Path,
				Query:      mb.Query,
				Subscribe:  mb.Subscribe,
				SpecialUse: specialUseOf(mb.SpecialUse),
				Extra:      mb.Extra,
			})
		}

		if ac.Kind == "imap" {
			tlsMode := settings.TLSNone
			switch {
			case ac.UseTLS:
				tlsMode = settings.TLSImplicit
			case ac.UseStartTLS:
				tlsMode = settings.TLSStartTLS
			}
			a.IMAP = settings.IMAPSettings{
				Server:               ac.Server,
				Port:                 ac.Port,
				Username:             ac.Username,
				Password:             ac.Password,
				TLS:                  tlsMode,
				PollingPeriodSeconds: ac.PollingPeriodSeconds,
				DisableIDLE:          ac.DisableIDLE,
				OfflineCachePath:     parsePathSetting(ac.OfflineCachePath),
			}
		}

		if err := a.Validate(); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func userHomeDir() string {
	if runtime.GOOS == "windows" {
		home := os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH")
		if home == "" {
			home = os.Getenv("USERPROFILE")
		}
		return home
	}
	return os.Getenv("HOME")
}

// parsePathSetting expands $HOME/~/$VAR prefixes and makes the result
// absolute, the way the teacher's config loader did.
func parsePathSetting(inPath string) string {
	if inPath == "" {
		return ""
	}
	if strings.HasPrefix(inPath, "$HOME") {
		inPath = userHomeDir() + inPath[5:]
	} else if strings.HasPrefix(inPath, "~/") {
		inPath = userHomeDir() + inPath[1:]
	}
	if strings.HasPrefix(inPath, "$") {
		end := strings.Index(inPath, string(os.PathSeparator))
		if end < 0 {
			end = len(inPath)
		}
		inPath = os.Getenv(inPath[1:end]) + inPath[end:]
	}
	if filepath.IsAbs(inPath) {
		return filepath.Clean(inPath)
	}
	if p, err := filepath.Abs(inPath); err == nil {
		return filepath.Clean(p)
	}
	return inPath
}
