/*
Command mboxstore maintains an index database for mbox mail files, for fast
access to messages, stable UIDs and IMAP flags, while other programs like mail
delivery agents and mail clients keep using the mbox file.

  - Messages are located by parsing "From " lines, with Content-Length headers
    used when they are correct.
  - Changes made to the mbox file by other programs are detected and applied to
    the index, with a full rebuild when the file changed unexpectedly.
  - UIDs stay the same for messages that are still present.
  - Flags, including custom keywords, are stored in the index and written to the
    Status, X-Status and X-Keywords headers when the mbox file is rewritten.
  - The mbox file is locked with flock and optionally dotlock files.

# Commands

	mboxstore [-config mboxstore.conf] [-loglevel level] ...
	mboxstore sync [-full] mbox
	mboxstore rebuild mbox
	mboxstore list mbox
	mboxstore cat mbox uid
	mboxstore envelope mbox uid
	mboxstore append [-from address] [-date time] [-flags flags] mbox < message
	mboxstore flags set mbox uids flag ...
	mboxstore flags add mbox uids flag ...
	mboxstore flags remove mbox uids flag ...
	mboxstore expunge mbox
	mboxstore parseaddr value
	mboxstore verifyindex [-fix] mbox
	mboxstore metrics mbox
	mboxstore config test [config-file]
	mboxstore config describe >mboxstore.conf
	mboxstore version
	mboxstore help [command ...]

Many commands talk to the index database of an mbox file. The index is stored
next to the mbox file as a hidden file, or in the directory configured as
IndexDir in mboxstore.conf.

# mboxstore sync

Update the index for an mbox file with changes made to the file.

Without -full, only messages added after the last indexed message are parsed,
and the last indexed message is checked to still be present. If the file size
and modification time did not change since the last sync, the file is not
read at all. With -full, all messages in the index are verified. If the file
was changed in a way that can't be followed, the index is rebuilt.

	usage: mboxstore sync [-full] mbox
	  -full
	    	verify all indexed messages

# mboxstore rebuild

Rebuild the index for an mbox file by parsing all messages.

Messages still present in the same order keep their UID.

	usage: mboxstore rebuild mbox

# mboxstore list

List the messages in an mbox file.

For each message, the UID, offset of the "From " line, message size, received
time and flags are printed.

	usage: mboxstore list mbox

# mboxstore cat

Write a message to stdout, without its "From " line.

	usage: mboxstore cat mbox uid

# mboxstore envelope

Print the envelope of a message, with parsed addresses.

	usage: mboxstore envelope mbox uid

# mboxstore append

Append a message read from stdin to an mbox file.

The mbox file is created if it doesn't exist. Flags is a comma-separated list
of IMAP flags, e.g. "\Seen,\Flagged,$Forwarded". The date is in RFC 3339
format, e.g. 2024-01-02T15:04:05Z.

	usage: mboxstore append [-from address] [-date time] [-flags flags] mbox < message
	  -date string
	    	received time, default now
	  -flags string
	    	comma-separated flags for the message
	  -from string
	    	envelope sender for the "From " line, default from config file

# mboxstore flags set

Replace the flags of messages.

UIDs is a comma-separated list of UIDs and UID ranges, e.g. 1,3:5. Flags are
IMAP flags, e.g. \Seen or $Forwarded. Flags are written to the mbox file by
the expunge command.

	usage: mboxstore flags set mbox uids flag ...

# mboxstore flags add

Add flags to messages.

See "flags set" for the parameters.

	usage: mboxstore flags add mbox uids flag ...

# mboxstore flags remove

Remove flags from messages.

See "flags set" for the parameters.

	usage: mboxstore flags remove mbox uids flag ...

# mboxstore expunge

Remove messages marked \Deleted and write changed flags to the mbox file.

A new mbox file is written and renamed over the old file.

	usage: mboxstore expunge mbox

# mboxstore parseaddr

Parse an address list as found in To and Cc headers, and print the addresses.

	usage: mboxstore parseaddr value

# mboxstore verifyindex

Verify the index database of an mbox file.

Verifyindex checks that the index database is a valid BoltDB/bstore database,
and that the records are consistent with each other: UIDs are ascending with
file offsets, messages do not overlap, UIDs are below the next UID and custom
flags are known. Then all messages in the index are compared against the mbox
file, without making changes.

With -fix, a full sync is done, which updates the index for changes in the mbox
file, and rebuilds the index if it cannot be updated.

	usage: mboxstore verifyindex [-fix] mbox
	  -fix
	    	update or rebuild the index to match the mbox file

# mboxstore metrics

Sync the index for an mbox file and print the resulting metrics.

	usage: mboxstore metrics mbox

# mboxstore config test

Parse and check a configuration file.

	usage: mboxstore config test [config-file]

# mboxstore config describe

Prints an annotated empty configuration for use as mboxstore.conf.

All fields are optional.

	usage: mboxstore config describe >mboxstore.conf

# mboxstore version

Prints this mboxstore version.

	usage: mboxstore version
*/
package main
