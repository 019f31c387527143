/*
Package config holds the configuration file definitions.

mboxstore uses a single, optional, configuration file: mboxstore.conf. Without
a configuration file, defaults are used: flock-only locking with a 30s timeout,
index databases stored next to the mailbox files, log level error.

Below is an "empty" config file, generated from the config file definitions in
the source code with "mboxstore config describe", along with comments
explaining the fields. Fields named "x" are placeholders for user-chosen map
keys.

# sconf

The config file is in "sconf" format. Properties of sconf files:

  - Indentation with tabs only.
  - "#" as first non-whitespace character makes the line a comment. Lines with a
    value cannot also have a comment.
  - Values don't have syntax indicating their type. For example, strings are
    not quoted/escaped and can never span multiple lines.
  - Fields that are optional can be left out completely. But the value of an
    optional field may itself have required fields.

See https://pkg.go.dev/github.com/mjl-/sconf for details.

# mboxstore.conf

	# NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be
	# on their own line, they don't end a line. Do not escape or quote strings.
	# Details: https://pkg.go.dev/github.com/mjl-/sconf.
	#
	#
	# Directory where index databases are stored. The index for mailbox file
	# /a/b/inbox is stored as inbox.index.db in this directory. If empty, the index is
	# stored next to the mailbox file as .inbox.index.db. If this is a relative path,
	# it is relative to the directory of mboxstore.conf. (optional)
	IndexDir:

	# Default log level, one of: error, info, debug, trace. Default: error. (optional)
	LogLevel:

	# Overrides of log level per package (e.g. store, mbox, message, mbxio).
	# (optional)
	PackageLogLevels:
		x:

	# Locking of the mailbox file against other processes, like mail delivery agents
	# and mail clients. (optional)
	Lock:

		# Lock methods to use, in order: flock, dotlock. Default: flock. Use dotlock as
		# well when other programs on the system only use dotlocks, e.g. some mail
		# delivery agents. (optional)
		Methods:
			-

		# Maximum time to wait for a lock held by another process. Default: 30s.
		# (optional)
		Timeout: 0s

		# Dotlock files older than this age are considered stale, left behind by a
		# crashed process, and are removed. Default: 5m. (optional)
		DotlockStale: 0s

	# Do not fsync the mailbox file after append and rewrite. Only useful for testing,
	# a crash can lose messages. (optional)
	NoFsync: false

	# Keep the previous version of the mailbox file as <mailbox>.bak after an expunge
	# rewrites the file. The backup is a hard link when possible, and a copy
	# otherwise. (optional)
	RewriteBackup: false

	# Sender written in the "From " line of appended messages when no sender is
	# specified. Default: MAILER-DAEMON. (optional)
	FromAddress:

# Examples

A configuration using both flock and dotlock, as needed when mail is delivered
by a program that only knows about dotlocks:

	LogLevel: info
	PackageLogLevels:
		store: debug
	Lock:
		Methods:
			- flock
			- dotlock
		Timeout: 1m
*/
package config
