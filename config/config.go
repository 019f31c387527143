package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/sconf"
	"golang.org/x/exp/slices"

	"github.com/mjl-/mboxstore/mlog"
)

// Defaults for fields left out of the config file.
const (
	DefaultLockTimeout  = 30 * time.Second
	DefaultDotlockStale = 5 * time.Minute
	DefaultFromAddress  = "MAILER-DAEMON"
)

// Static is a parsed form of the mboxstore.conf configuration file.
type Static struct {
	IndexDir         string            `sconf:"optional" sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDirectory where index databases are stored. The index for mailbox file /a/b/inbox is stored as inbox.index.db in this directory. If empty, the index is stored next to the mailbox file as .inbox.index.db. If this is a relative path, it is relative to the directory of mboxstore.conf."`
	LogLevel         string            `sconf:"optional" sconf-doc:"Default log level, one of: error, info, debug, trace. Default: error."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. store, mbox, message, mbxio)."`
	Lock             Lock              `sconf:"optional" sconf-doc:"Locking of the mailbox file against other processes, like mail delivery agents and mail clients."`
	NoFsync          bool              `sconf:"optional" sconf-doc:"Do not fsync the mailbox file after append and rewrite. Only useful for testing, a crash can lose messages."`
	RewriteBackup    bool              `sconf:"optional" sconf-doc:"Keep the previous version of the mailbox file as <mailbox>.bak after an expunge rewrites the file. The backup is a hard link when possible, and a copy otherwise."`
	FromAddress      string            `sconf:"optional" sconf-doc:"Sender written in the \"From \" line of appended messages when no sender is specified. Default: MAILER-DAEMON."`
	MaxMessageSize   int64             `sconf:"optional" sconf-doc:"Maximum size in bytes of messages added with append. Default: 0, no limit."`

	// Parsed from LogLevel and PackageLogLevels.
	Log map[string]mlog.Level `sconf:"-"`
}

// Lock configures the lock methods for the mailbox file.
type Lock struct {
	Methods      []string      `sconf:"optional" sconf-doc:"Lock methods to use, in order: flock, dotlock. Default: flock. Use dotlock as well when other programs on the system only use dotlocks, e.g. some mail delivery agents."`
	Timeout      time.Duration `sconf:"optional" sconf-doc:"Maximum time to wait for a lock held by another process. Default: 30s."`
	DotlockStale time.Duration `sconf:"optional" sconf-doc:"Dotlock files older than this age are considered stale, left behind by a crashed process, and are removed. Default: 5m."`
}

// Default returns a configuration with default values, as used when no
// configuration file is present.
func Default() Static {
	c := Static{}
	if err := prepare(&c, ""); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return c
}

// ParseFile parses the configuration file at path p, and checks and fills in
// default values.
func ParseFile(p string) (Static, error) {
	var c Static
	f, err := os.Open(p)
	if err != nil {
		return c, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	if err := sconf.Parse(f, &c); err != nil {
		return c, fmt.Errorf("parsing %s%w", p, err)
	}
	if err := prepare(&c, filepath.Dir(p)); err != nil {
		return c, fmt.Errorf("checking %s: %v", p, err)
	}
	return c, nil
}

func prepare(c *Static, dir string) error {
	if c.LogLevel == "" {
		c.LogLevel = "error"
	}
	if level, ok := mlog.Levels[c.LogLevel]; ok {
		c.Log = map[string]mlog.Level{"": level}
	} else {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	for pkg, s := range c.PackageLogLevels {
		if level, ok := mlog.Levels[s]; ok {
			c.Log[pkg] = level
		} else {
			return fmt.Errorf("invalid package log level %q for package %q", s, pkg)
		}
	}

	if c.IndexDir != "" && dir != "" && !filepath.IsAbs(c.IndexDir) {
		c.IndexDir = filepath.Join(dir, c.IndexDir)
	}

	if len(c.Lock.Methods) == 0 {
		c.Lock.Methods = []string{"flock"}
	}
	seen := map[string]bool{}
	for _, m := range c.Lock.Methods {
		if m != "flock" && m != "dotlock" {
			return fmt.Errorf("unknown lock method %q, must be flock or dotlock", m)
		}
		if seen[m] {
			return fmt.Errorf("duplicate lock method %q", m)
		}
		seen[m] = true
	}
	if c.Lock.Timeout == 0 {
		c.Lock.Timeout = DefaultLockTimeout
	} else if c.Lock.Timeout < 0 {
		return fmt.Errorf("negative lock timeout")
	}
	if c.Lock.DotlockStale == 0 {
		c.Lock.DotlockStale = DefaultDotlockStale
	} else if c.Lock.DotlockStale < 0 {
		return fmt.Errorf("negative dotlock stale age")
	}

	if c.MaxMessageSize < 0 {
		return fmt.Errorf("negative maximum message size")
	}

	if c.FromAddress == "" {
		c.FromAddress = DefaultFromAddress
	}
	return nil
}

// HasLockMethod returns whether lock method m ("flock" or "dotlock") is
// configured.
func (c Static) HasLockMethod(m string) bool {
	return slices.Contains(c.Lock.Methods, m)
}
