// Command jsonlt inspects and mutates JSONLT table files.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jessevdk/go-flags"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/jpl-au/jsonlt"
)

// Config is the top-level configuration shared by all commands.
var Config = new(struct {
	File        string        `short:"f" long:"file" required:"true" description:"Path of the table file"`
	Key         string        `short:"k" long:"key" description:"Comma-separated key field names (required to create a file)"`
	Lenient     bool          `long:"lenient" description:"Accept unknown reserved fields when reading"`
	LockTimeout time.Duration `long:"lock-timeout" default:"10s" description:"Give up on lock acquisition after this long"`
	Verbose     bool          `short:"v" long:"verbose" description:"Debug logging"`
})

func initLog() {
	level := slog.LevelInfo
	if Config.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})))
}

func spec() jsonlt.KeySpec {
	if Config.Key == "" {
		return nil
	}
	return jsonlt.KeySpec(strings.Split(Config.Key, ","))
}

func cfg() jsonlt.Config {
	return jsonlt.Config{
		LockTimeout: Config.LockTimeout,
		Lenient:     Config.Lenient,
	}
}

func openTable() (*jsonlt.Table, error) {
	initLog()
	t, err := jsonlt.Open(Config.File, spec(), cfg())
	if err != nil {
		return nil, err
	}
	slog.Debug("opened table", "file", Config.File, "key", t.Spec())
	return t, nil
}

// parseKey converts command-line key parts: decimal integers become
// integer key parts, everything else stays a string.
func parseKey(args []string) (jsonlt.Key, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("a key is required")
	}
	parts := make([]any, len(args))
	for i, a := range args {
		if n, err := strconv.ParseInt(a, 10, 64); err == nil {
			parts[i] = n
		} else {
			parts[i] = a
		}
	}
	return jsonlt.K(parts...), nil
}

func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type cmdCreate struct{}

func (cmdCreate) Execute(args []string) error {
	initLog()
	if Config.Key == "" {
		return fmt.Errorf("--key is required to create a table")
	}
	var records []jsonlt.Record
	if len(args) > 0 {
		for _, a := range args {
			var rec jsonlt.Record
			dec := json.NewDecoder(strings.NewReader(a))
			dec.UseNumber()
			if err := dec.Decode(&rec); err != nil {
				return fmt.Errorf("record %q: %w", a, err)
			}
			records = append(records, rec)
		}
	}
	t, err := jsonlt.FromRecords(Config.File, records, spec(), cfg())
	if err != nil {
		return err
	}
	defer t.Close()
	slog.Info("created table", "file", Config.File, "records", len(records))
	return nil
}

type cmdGet struct{}

func (cmdGet) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	key, err := parseKey(args)
	if err != nil {
		return err
	}
	rec, err := t.Get(key)
	if err != nil {
		return err
	}
	return emit(rec)
}

type cmdPut struct{}

func (cmdPut) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()

	var in io.Reader = os.Stdin
	if len(args) > 0 {
		in = strings.NewReader(strings.Join(args, "\n"))
	}
	dec := json.NewDecoder(in)
	dec.UseNumber()
	n := 0
	for {
		var rec jsonlt.Record
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		if err := t.Put(rec); err != nil {
			return err
		}
		n++
	}
	slog.Info("stored records", "count", n)
	return nil
}

type cmdDelete struct{}

func (cmdDelete) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	key, err := parseKey(args)
	if err != nil {
		return err
	}
	return t.Delete(key)
}

type cmdKeys struct{}

func (cmdKeys) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	keys, err := t.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

type cmdList struct{}

func (cmdList) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	records, err := t.All()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

type cmdCount struct{}

func (cmdCount) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	n, err := t.Count()
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

type cmdCompact struct{}

func (cmdCompact) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	before, err := t.Count()
	if err != nil {
		return err
	}
	if err := t.Compact(); err != nil {
		return err
	}
	slog.Info("compacted", "file", Config.File, "records", before)
	return nil
}

type cmdClear struct{}

func (cmdClear) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	return t.Clear()
}

type cmdVerify struct {
	Alg int `long:"alg" default:"1" description:"Fingerprint algorithm: 1=xxh3, 2=fnv1a, 3=blake2b"`
}

func (c cmdVerify) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	fp, err := t.Fingerprint(c.Alg)
	if err != nil {
		return err
	}
	fmt.Println(fp)
	return nil
}

type cmdBackup struct{}

func (cmdBackup) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	if len(args) != 1 {
		return fmt.Errorf("backup requires a destination path")
	}
	out, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := t.Backup(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type cmdRestore struct{}

func (cmdRestore) Execute(args []string) error {
	initLog()
	if len(args) != 1 {
		return fmt.Errorf("restore requires a backup path")
	}
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()
	t, err := jsonlt.Restore(Config.File, in, cfg())
	if err != nil {
		return err
	}
	defer t.Close()
	n, err := t.Count()
	if err != nil {
		return err
	}
	slog.Info("restored", "file", Config.File, "records", n)
	return nil
}

type cmdHistory struct{}

func (cmdHistory) Execute(args []string) error {
	t, err := openTable()
	if err != nil {
		return err
	}
	defer t.Close()
	key, err := parseKey(args)
	if err != nil {
		return err
	}
	versions, err := t.History(key)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v == nil {
			fmt.Println("(deleted)")
			continue
		}
		if err := emit(v); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	parser := flags.NewParser(Config, flags.Default)

	parser.AddCommand("create", "Create a table", "Create a new table file, optionally seeded with JSON records given as arguments.", &cmdCreate{})
	parser.AddCommand("get", "Get a record", "Print the record for a key. Key parts are positional arguments.", &cmdGet{})
	parser.AddCommand("put", "Store records", "Read JSON records from arguments or stdin and store each.", &cmdPut{})
	parser.AddCommand("delete", "Delete a key", "Append a tombstone for the key.", &cmdDelete{})
	parser.AddCommand("keys", "List keys", "Print all keys in canonical order.", &cmdKeys{})
	parser.AddCommand("list", "List records", "Print all records in canonical key order as JSON lines.", &cmdList{})
	parser.AddCommand("count", "Count records", "Print the number of live records.", &cmdCount{})
	parser.AddCommand("compact", "Compact the file", "Rewrite the file with one line per live key.", &cmdCompact{})
	parser.AddCommand("clear", "Remove all records", "Rewrite the file to just its header.", &cmdClear{})
	parser.AddCommand("verify", "Fingerprint the view", "Print a digest of the materialized view.", &cmdVerify{})
	parser.AddCommand("backup", "Write a compressed backup", "Stream a zstd-compressed copy of the file to a path.", &cmdBackup{})
	parser.AddCommand("restore", "Restore from a backup", "Create the table file from a zstd backup stream.", &cmdRestore{})
	parser.AddCommand("history", "Show key history", "Print every stored version of a key, oldest first.", &cmdHistory{})

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		slog.Error(err.Error())
		os.Exit(1)
	}
}
