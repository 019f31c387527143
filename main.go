package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/mjl-/sconf"

	"github.com/mjl-/mboxstore/config"
	"github.com/mjl-/mboxstore/mbxvar"
	"github.com/mjl-/mboxstore/message"
	"github.com/mjl-/mboxstore/mlog"
	"github.com/mjl-/mboxstore/store"
)

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"sync", cmdSync},
	{"rebuild", cmdRebuild},
	{"list", cmdList},
	{"cat", cmdCat},
	{"envelope", cmdEnvelope},
	{"append", cmdAppend},
	{"flags set", cmdFlagsSet},
	{"flags add", cmdFlagsAdd},
	{"flags remove", cmdFlagsRemove},
	{"expunge", cmdExpunge},
	{"parseaddr", cmdParseaddr},
	{"verifyindex", cmdVerifyindex},
	{"metrics", cmdMetrics},
	{"config test", cmdConfigTest},
	{"config describe", cmdConfigDescribe},
	{"version", cmdVersion},
	{"help", cmdHelp},
	{"helpall", cmdHelpall},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	unlisted bool   // If set, command is not listed until at least some words are matched from command.
	params   string // Arguments to command. Multiple lines possible.
	help     string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args     []string

	log *mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we just run the command but cause this
	// panic after the command has registered its flags and set its params and help
	// information. This is then caught and that info printed.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("mboxstore "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "mboxstore " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) printUsage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
}

func (c *cmd) Usage() {
	c.printUsage()
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		line := "mboxstore " + strings.Join(c.words, " ")
		fmt.Printf("%s\n", line)
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func cmdHelpall(c *cmd) {
	c.unlisted = true
	c.help = `Print all detailed usage and help information for all listed commands.

Used to generate documentation.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	n := 0
	for _, c := range cmds {
		c.gather()
		if c.unlisted {
			continue
		}
		if n > 0 {
			fmt.Fprintf(os.Stderr, "\n")
		}
		n++

		fmt.Fprintf(os.Stderr, "# mboxstore %s\n\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Fprintln(os.Stderr, c.help+"\n")
		}
		s := c.makeUsage()
		s = "\t" + strings.ReplaceAll(s, "\n", "\n\t")
		fmt.Fprintln(os.Stderr, s)
	}
}

func usage(l []cmd, unlisted bool) {
	var lines []string
	if !unlisted {
		lines = append(lines, "mboxstore [-config mboxstore.conf] [-loglevel level] ...")
	}
	for _, c := range l {
		c.gather()
		if c.unlisted && !unlisted {
			continue
		}
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"mboxstore"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var configPath string
var loglevel string // Empty uses the level from the config file.
var conf = config.Default()

// mustLoadConfig loads the config file if it exists, or was explicitly
// specified, and sets the log levels. A loglevel from the command-line
// overrides the level from the config file.
func mustLoadConfig() {
	if _, err := os.Stat(configPath); err == nil || configPath != defaultConfigPath {
		c, err := config.ParseFile(configPath)
		xcheckf(err, "loading config file")
		conf = c
	}
	if loglevel != "" {
		level, ok := mlog.Levels[loglevel]
		if !ok {
			log.Fatalf("unknown loglevel %q", loglevel)
		}
		conf.Log[""] = level
	}
	mlog.SetConfig(conf.Log)
}

var ctxbg = context.Background()

const defaultConfigPath = "mboxstore.conf"

func main() {
	log.SetFlags(0)

	flag.StringVar(&configPath, "config", envString("MBOXSTORECONF", defaultConfigPath), "configuration file, defaults to $MBOXSTORECONF with a fallback to mboxstore.conf, not required to exist")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, this log level is used instead of the level from the config file")

	var cpuprofile, memprofile, tracefile string
	flag.StringVar(&cpuprofile, "cpuprof", "", "store cpu profile to file")
	flag.StringVar(&memprofile, "memprof", "", "store mem profile to file")
	flag.StringVar(&tracefile, "trace", "", "store execution trace to file")

	flag.Usage = func() { usage(cmds, false) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds, false)
	}

	if tracefile != "" {
		defer traceExecution(tracefile)()
	}
	defer profile(cpuprofile, memprofile)()

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("mboxstore "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""))
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial, true)
	}
	usage(cmds, false)
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

// xopenIndex loads the config and opens the index for the mbox file.
func xopenIndex(c *cmd, mboxPath string, create bool) *store.Index {
	mustLoadConfig()
	opts := store.OptionsFromConfig(conf)
	opts.Create = create
	ix, err := store.Open(ctxbg, c.log, mboxPath, opts)
	xcheckf(err, "open index")
	return ix
}

func xcloseIndex(ix *store.Index) {
	err := ix.Close()
	xcheckf(err, "closing index")
}

// xsyncIndex syncs the index. Commands that work on records do this first, so
// the records match the mbox file.
func xsyncIndex(ix *store.Index) {
	_, err := ix.Sync(ctxbg, store.LockRead)
	xcheckf(err, "sync index")
}

func xparseUID(s string) store.UID {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		log.Fatalf("invalid uid %q", s)
	}
	return store.UID(v)
}

// xparseUIDs parses a comma-separated list of UIDs and UID ranges like 3:5.
func xparseUIDs(ix *store.Index, s string) []store.UID {
	var l []store.UID
	for _, e := range strings.Split(s, ",") {
		first, last, isRange := strings.Cut(e, ":")
		if !isRange {
			l = append(l, xparseUID(e))
			continue
		}
		records, err := ix.RecordsByUIDRange(ctxbg, xparseUID(first), xparseUID(last))
		xcheckf(err, "listing records")
		for _, rec := range records {
			l = append(l, rec.UID)
		}
	}
	return l
}

func cmdSync(c *cmd) {
	c.params = "[-full] mbox"
	c.help = `Update the index for an mbox file with changes made to the file.

Without -full, only messages added after the last indexed message are parsed,
and the last indexed message is checked to still be present. If the file size
and modification time did not change since the last sync, the file is not
read at all. With -full, all messages in the index are verified. If the file
was changed in a way that can't be followed, the index is rebuilt.
`
	var full bool
	c.flag.BoolVar(&full, "full", false, "verify all indexed messages")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ix := xopenIndex(c, args[0], false)
	defer xcloseIndex(ix)

	var changes bool
	var err error
	if full {
		changes, err = ix.SyncFull(ctxbg)
	} else {
		changes, err = ix.Sync(ctxbg, store.LockRead)
	}
	xcheckf(err, "sync")
	n, err := ix.Count(ctxbg)
	xcheckf(err, "count messages")
	fmt.Printf("changes: %v, messages: %d\n", changes, n)
}

func cmdRebuild(c *cmd) {
	c.params = "mbox"
	c.help = `Rebuild the index for an mbox file by parsing all messages.

Messages still present in the same order keep their UID.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ix := xopenIndex(c, args[0], false)
	defer xcloseIndex(ix)

	err := ix.Rebuild(ctxbg)
	xcheckf(err, "rebuild")
	n, err := ix.Count(ctxbg)
	xcheckf(err, "count messages")
	fmt.Printf("messages: %d\n", n)
}

func cmdList(c *cmd) {
	c.params = "mbox"
	c.help = `List the messages in an mbox file.

For each message, the UID, offset of the "From " line, message size, received
time and flags are printed.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ix := xopenIndex(c, args[0], false)
	defer xcloseIndex(ix)
	xsyncIndex(ix)

	records, err := ix.Records(ctxbg)
	xcheckf(err, "listing records")
	for _, rec := range records {
		fmt.Printf("%d\t%d\t%d\t%s\t%s\n", rec.UID, rec.Offset, rec.Size(), rec.Received.Format(time.RFC3339), strings.Join(ix.FlagNames(rec.Flags), " "))
	}
}

func cmdCat(c *cmd) {
	c.params = "mbox uid"
	c.help = `Write a message to stdout, without its "From " line.`
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}

	ix := xopenIndex(c, args[0], false)
	defer xcloseIndex(ix)
	xsyncIndex(ix)

	rec, err := ix.RecordByUID(ctxbg, xparseUID(args[1]))
	xcheckf(err, "get message")
	mr, _, deleted, err := ix.OpenMail(ctxbg, rec)
	xcheckf(err, "open message")
	if deleted {
		log.Fatalf("message was removed from mbox file")
	}
	defer func() {
		err := mr.Close()
		c.log.Check(err, "closing message")
	}()
	_, err = io.Copy(os.Stdout, mr)
	xcheckf(err, "write message")
}

func printAddresses(k string, l []message.Address) {
	for _, a := range l {
		fmt.Printf("%s: %s\n", k, a.String())
	}
}

func cmdEnvelope(c *cmd) {
	c.params = "mbox uid"
	c.help = `Print the envelope of a message, with parsed addresses.`
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}

	ix := xopenIndex(c, args[0], false)
	defer xcloseIndex(ix)
	xsyncIndex(ix)

	rec, err := ix.RecordByUID(ctxbg, xparseUID(args[1]))
	xcheckf(err, "get message")
	env, err := ix.Envelope(ctxbg, rec)
	xcheckf(err, "parse envelope")

	if !env.Date.IsZero() {
		fmt.Printf("Date: %s\n", env.Date.Format(time.RFC1123Z))
	}
	fmt.Printf("Subject: %s\n", env.Subject)
	printAddresses("From", env.From)
	printAddresses("Sender", env.Sender)
	printAddresses("Reply-To", env.ReplyTo)
	printAddresses("To", env.To)
	printAddresses("Cc", env.CC)
	printAddresses("Bcc", env.BCC)
	if env.InReplyTo != "" {
		fmt.Printf("In-Reply-To: %s\n", env.InReplyTo)
	}
	if env.MessageID != "" {
		fmt.Printf("Message-ID: %s\n", env.MessageID)
	}
}

func cmdAppend(c *cmd) {
	c.params = "[-from address] [-date time] [-flags flags] mbox < message"
	c.help = `Append a message read from stdin to an mbox file.

The mbox file is created if it doesn't exist. Flags is a comma-separated list
of IMAP flags, e.g. "\Seen,\Flagged,$Forwarded". The date is in RFC 3339
format, e.g. 2024-01-02T15:04:05Z.
`
	var from, date, flags string
	c.flag.StringVar(&from, "from", "", "envelope sender for the \"From \" line, default from config file")
	c.flag.StringVar(&date, "date", "", "received time, default now")
	c.flag.StringVar(&flags, "flags", "", "comma-separated flags for the message")
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	opts := store.AppendOptions{From: from}
	if date != "" {
		t, err := time.Parse(time.RFC3339, date)
		xcheckf(err, "parsing date")
		opts.Received = t
	}
	if flags != "" {
		var err error
		opts.Flags, opts.Keywords, err = store.ParseFlags(strings.Split(flags, ","))
		xcheckf(err, "parsing flags")
	}

	ix := xopenIndex(c, args[0], true)
	defer xcloseIndex(ix)

	rec, err := ix.Append(ctxbg, os.Stdin, opts)
	xcheckf(err, "append message")
	fmt.Printf("uid: %d, offset: %d\n", rec.UID, rec.Offset)
}

func cmdFlagsSet(c *cmd) {
	c.params = "mbox uids flag ..."
	c.help = `Replace the flags of messages.

UIDs is a comma-separated list of UIDs and UID ranges, e.g. 1,3:5. Flags are
IMAP flags, e.g. \Seen or $Forwarded. Flags are written to the mbox file by
the expunge command.
`
	flagsChange(c, store.FlagReplace)
}

func cmdFlagsAdd(c *cmd) {
	c.params = "mbox uids flag ..."
	c.help = `Add flags to messages.

See "flags set" for the parameters.
`
	flagsChange(c, store.FlagAdd)
}

func cmdFlagsRemove(c *cmd) {
	c.params = "mbox uids flag ..."
	c.help = `Remove flags from messages.

See "flags set" for the parameters.
`
	flagsChange(c, store.FlagRemove)
}

func flagsChange(c *cmd, mode store.FlagMode) {
	args := c.Parse()
	if len(args) < 2 || mode != store.FlagReplace && len(args) < 3 {
		c.Usage()
	}

	ix := xopenIndex(c, args[0], false)
	defer xcloseIndex(ix)
	xsyncIndex(ix)

	changed, err := ix.SetFlags(ctxbg, xparseUIDs(ix, args[1]), mode, args[2:])
	xcheckf(err, "changing flags")
	for _, rec := range changed {
		fmt.Printf("%d\t%s\n", rec.UID, strings.Join(ix.FlagNames(rec.Flags), " "))
	}
}

func cmdExpunge(c *cmd) {
	c.params = "mbox"
	c.help = `Remove messages marked \Deleted and write changed flags to the mbox file.

A new mbox file is written and renamed over the old file.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ix := xopenIndex(c, args[0], false)
	defer xcloseIndex(ix)

	res, err := ix.Rewrite(ctxbg)
	xcheckf(err, "rewriting mbox file")
	fmt.Printf("expunged: %d, flags written: %d\n", len(res.Expunged), res.Rewritten)
	if res.Backup != "" {
		fmt.Printf("previous mbox file: %s\n", res.Backup)
	}
}

func cmdParseaddr(c *cmd) {
	c.params = "value"
	c.help = `Parse an address list as found in To and Cc headers, and print the addresses.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	for _, a := range message.ParseAddressList([]byte(args[0])) {
		switch a.Kind {
		case message.AddressGroupStart:
			fmt.Printf("group %q\n", a.Name)
		case message.AddressGroupEnd:
			fmt.Println("end of group")
		default:
			fmt.Printf("name %q, mailbox %q, domain %q", a.DecodedName(), a.Mailbox, a.Domain)
			if a.Route != "" {
				fmt.Printf(", route %q", a.Route)
			}
			fmt.Println()
		}
	}
}

func cmdMetrics(c *cmd) {
	c.params = "mbox"
	c.help = `Sync the index for an mbox file and print the resulting metrics.`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ix := xopenIndex(c, args[0], false)
	xsyncIndex(ix)
	xcloseIndex(ix)

	err := writeMetrics(os.Stdout)
	xcheckf(err, "writing metrics")
}

func cmdConfigTest(c *cmd) {
	c.params = "[config-file]"
	c.help = `Parse and check a configuration file.`
	args := c.Parse()
	if len(args) > 1 {
		c.Usage()
	}
	p := configPath
	if len(args) == 1 {
		p = args[0]
	}

	_, err := config.ParseFile(p)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		log.Fatalf("config file %s does not exist", p)
	}
	xcheckf(err, "parsing config file")
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">mboxstore.conf"
	c.help = `Prints an annotated empty configuration for use as mboxstore.conf.

All fields are optional.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	var sc config.Static
	err := sconf.Describe(os.Stdout, &sc)
	xcheckf(err, "describing config")
}

func cmdVersion(c *cmd) {
	c.help = "Prints this mboxstore version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(mbxvar.Version)
	fmt.Printf("%s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// indexPath returns the index database path for the mbox file with the
// current config.
func indexPath(mboxPath string) string {
	return store.IndexPath(filepath.Clean(mboxPath), conf.IndexDir)
}
