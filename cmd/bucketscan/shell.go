package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/KevoDB/bucketscan/pkg/bucket"
	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/scanner"
	"github.com/KevoDB/bucketscan/pkg/serializer"
	"github.com/KevoDB/bucketscan/pkg/store"
	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".owner"),
	readline.PcItem("PUT"),
	readline.PcItem("DEL"),
	readline.PcItem("SCAN",
		readline.PcItem("PAGE"),
		readline.PcItem("FROM"),
		readline.PcItem("TO"),
		readline.PcItem("REVERSED"),
		readline.PcItem("SKIPFIRST"),
	),
	readline.PcItem("NEXT"),
	readline.PcItem("RESET"),
	readline.PcItem("LOCATE"),
	readline.PcItem("BUCKETS"),
)

const helpText = `
bucketscan - page through bucketed wide rows.

Commands:
  .help                   - Show this help message
  .exit                   - Exit the program
  .stats                  - Show store statistics
  .owner [ID]             - Show or set the owner (keyspace) UUID

  PUT prefix bucket column value
                          - Store a column in partition prefix:bucket
  DEL prefix bucket column
                          - Delete a column from partition prefix:bucket

  SCAN prefix bucket [PAGE n] [FROM start] [TO finish] [REVERSED] [SKIPFIRST]
                          - Start a scan of one bucket and show the first page
                          - FROM resumes after that column, TO is inclusive
                          - SKIPFIRST marks FROM as already delivered
  NEXT                    - Show the next page of the current scan
  RESET                   - Restart the current scan from the beginning

  LOCATE id               - Show the bucket an entity id is written to
  BUCKETS                 - List all bucket ids
`

var errUsage = errors.New("usage")

// ShellOptions configures a Shell
type ShellOptions struct {
	Store        store.Store
	Out          io.Writer
	Locator      *bucket.Locator
	Owner        uuid.UUID
	ColumnFamily string
	// PageSize and Reversed are the SCAN defaults
	PageSize  int
	Reversed  bool
	Logger    log.Logger
	Telemetry telemetry.Telemetry
}

// Shell executes interactive commands against a store
type Shell struct {
	ShellOptions

	scan *scanner.BucketScanner[string]
}

// NewShell creates a shell
func NewShell(opts ShellOptions) *Shell {
	return &Shell{ShellOptions: opts}
}

// Prompt returns the prompt for the current state
func (s *Shell) Prompt() string {
	if s.scan != nil {
		return fmt.Sprintf("bucketscan[%s]> ", s.scan.Bucket())
	}
	return "bucketscan> "
}

// Execute runs one command line. It reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}

	cmd := strings.ToUpper(parts[0])
	args := parts[1:]

	switch cmd {
	case ".HELP":
		fmt.Fprint(s.Out, helpText)
	case ".EXIT":
		return true, nil
	case ".STATS":
		return false, s.stats()
	case ".OWNER":
		return false, s.setOwner(args)
	case "PUT":
		return false, s.put(ctx, args)
	case "DEL", "DELETE":
		return false, s.del(ctx, args)
	case "SCAN":
		return false, s.startScan(ctx, args)
	case "NEXT":
		return false, s.next(ctx)
	case "RESET":
		if s.scan == nil {
			return false, fmt.Errorf("no scan in progress")
		}
		s.scan.Reset()
		return false, s.next(ctx)
	case "LOCATE":
		return false, s.locate(args)
	case "BUCKETS":
		fmt.Fprintln(s.Out, strings.Join(s.Locator.Buckets(), " "))
	default:
		return false, fmt.Errorf("unknown command %q, enter .help for usage", parts[0])
	}
	return false, nil
}

func (s *Shell) mutation(prefix, bucketID, column string, value []byte) store.Mutation {
	return store.Mutation{
		Owner:        s.Owner,
		ColumnFamily: s.ColumnFamily,
		PartitionKey: bucket.Key(prefix, bucketID),
		Column:       store.Column{Name: []byte(column), Value: value},
	}
}

func (s *Shell) put(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("%w: PUT prefix bucket column value", errUsage)
	}
	value := strings.Join(args[3:], " ")
	if err := s.Store.Put(ctx, s.mutation(args[0], args[1], args[2], []byte(value))); err != nil {
		return err
	}
	fmt.Fprintln(s.Out, "Value stored")
	return nil
}

func (s *Shell) del(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("%w: DEL prefix bucket column", errUsage)
	}
	if err := s.Store.Delete(ctx, s.mutation(args[0], args[1], args[2], nil)); err != nil {
		return err
	}
	fmt.Fprintln(s.Out, "Column deleted")
	return nil
}

func (s *Shell) startScan(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: SCAN prefix bucket [PAGE n] [FROM start] [TO finish] [REVERSED] [SKIPFIRST]", errUsage)
	}

	opts := scanner.Options[string]{
		Reader:       s.Store,
		ColumnFamily: s.ColumnFamily,
		Serializer:   serializer.String{},
		Owner:        s.Owner,
		KeyPrefix:    args[0],
		Bucket:       args[1],
		Reversed:     s.Reversed,
		PageSize:     s.PageSize,
		Logger:       s.Logger,
		Telemetry:    s.Telemetry,
	}

	rest := args[2:]
	for i := 0; i < len(rest); i++ {
		word := strings.ToUpper(rest[i])
		switch word {
		case "REVERSED":
			opts.Reversed = true
		case "SKIPFIRST":
			opts.SkipFirst = true
		case "PAGE", "FROM", "TO":
			if i+1 >= len(rest) {
				return fmt.Errorf("%w: %s needs a value", errUsage, word)
			}
			i++
			value := rest[i]
			switch word {
			case "PAGE":
				n, err := strconv.Atoi(value)
				if err != nil {
					return fmt.Errorf("%w: invalid page size %q", errUsage, value)
				}
				opts.PageSize = n
			case "FROM":
				opts.Start = &value
			case "TO":
				opts.Finish = &value
			}
		default:
			return fmt.Errorf("%w: unexpected %q", errUsage, rest[i])
		}
	}

	sc, err := scanner.New(opts)
	if err != nil {
		return err
	}
	s.scan = sc
	return s.next(ctx)
}

func (s *Shell) next(ctx context.Context) error {
	if s.scan == nil {
		return fmt.Errorf("no scan in progress")
	}

	if !s.scan.HasNext(ctx) {
		if err := s.scan.Err(); err != nil {
			return err
		}
		fmt.Fprintln(s.Out, "(end of bucket)")
		return nil
	}

	page := s.scan.Next()
	for _, col := range page {
		fmt.Fprintf(s.Out, "%s: %s\n", quote(col.Name), quote(col.Value))
	}
	fmt.Fprintf(s.Out, "(%d columns)\n", len(page))
	return nil
}

func (s *Shell) locate(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: LOCATE id", errUsage)
	}
	if id, err := uuid.Parse(args[0]); err == nil {
		fmt.Fprintln(s.Out, s.Locator.Bucket(id))
		return nil
	}
	fmt.Fprintln(s.Out, s.Locator.BucketForKey([]byte(args[0])))
	return nil
}

func (s *Shell) setOwner(args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(s.Out, s.Owner)
		return nil
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid owner: %w", err)
	}
	s.Owner = id
	s.scan = nil
	fmt.Fprintf(s.Out, "Owner set to %s\n", id)
	return nil
}

func (s *Shell) stats() error {
	provider, ok := s.Store.(interface{ Stats() map[string]interface{} })
	if !ok {
		return fmt.Errorf("store does not report statistics")
	}

	stats := provider.Stats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(s.Out, "  %s: %v\n", k, stats[k])
	}
	return nil
}

func quote(b []byte) string {
	s := string(b)
	if strconv.CanBackquote(s) {
		return s
	}
	return strconv.Quote(s)
}
