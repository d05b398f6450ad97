package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/KevoDB/bucketscan/pkg/bucket"
	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/config"
	"github.com/KevoDB/bucketscan/pkg/grpc/storagepb"
	"github.com/KevoDB/bucketscan/pkg/grpc/transport"
	"github.com/KevoDB/bucketscan/pkg/store"
	"github.com/KevoDB/bucketscan/pkg/store/bolt"
	"github.com/KevoDB/bucketscan/pkg/store/memory"
	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

// Options holds the command line settings
type Options struct {
	ConfigPath   string
	Engine       string
	DataDir      string
	Endpoint     string
	ServerMode   bool
	ListenAddr   string
	ColumnFamily string
	Owner        string
	LogLevel     string
}

func main() {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	logger := log.NewStandardLogger(log.WithLevel(level))

	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting telemetry: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tel.Shutdown(ctx)
	}()

	st, err := openStore(context.Background(), cfg, logger, tel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if opts.ServerMode {
		if cfg.Engine == config.EngineRemote {
			fmt.Fprintln(os.Stderr, "Error: server mode needs a local engine (memory or bolt)")
			os.Exit(1)
		}
		if err := runServer(st, cfg, logger, tel); err != nil {
			fmt.Fprintf(os.Stderr, "Error serving: %v\n", err)
			os.Exit(1)
		}
		return
	}

	owner := uuid.Nil
	if opts.Owner != "" {
		owner, err = uuid.Parse(opts.Owner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid owner: %v\n", err)
			os.Exit(1)
		}
	}

	locator, err := bucket.NewLocator(cfg.BucketCount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	shell := NewShell(ShellOptions{
		Store:        st,
		Out:          os.Stdout,
		Locator:      locator,
		Owner:        owner,
		ColumnFamily: opts.ColumnFamily,
		PageSize:     cfg.PageSize,
		Reversed:     cfg.Reversed,
		Logger:       logger,
		Telemetry:    tel,
	})
	runInteractive(shell, cfg.Engine)
}

// parseFlags parses command line flags
func parseFlags() Options {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "bucketscan - page through bucketed wide rows\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: bucketscan [options]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "By default, bucketscan runs an interactive shell against the configured store.\n")
		fmt.Fprintf(flag.CommandLine.Output(), "If -server is given, the store is served over gRPC instead.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nStart bucketscan and type .help for the shell commands.\n")
	}

	var opts Options
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to a JSON configuration file")
	flag.StringVar(&opts.Engine, "engine", "", "Store engine: memory, bolt or remote")
	flag.StringVar(&opts.DataDir, "data", "", "Data directory for the bolt engine")
	flag.StringVar(&opts.Endpoint, "endpoint", "", "Server address for the remote engine")
	flag.BoolVar(&opts.ServerMode, "server", false, "Run in server mode, exposing the store over gRPC")
	flag.StringVar(&opts.ListenAddr, "address", "", "Address to listen on in server mode")
	flag.StringVar(&opts.ColumnFamily, "cf", "Entity_Index", "Column family used by the shell")
	flag.StringVar(&opts.Owner, "owner", "", "Owner (keyspace) UUID used by the shell")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")

	flag.Parse()
	return opts
}

// loadConfig reads the configuration file, if any, and applies flag overrides
func loadConfig(opts Options) (*config.Config, error) {
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loaded, err := config.LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.NewDefaultConfig(filepath.Join(os.TempDir(), "bucketscan"))
		cfg.LoadFromEnv()
	}

	cfg.Update(func(c *config.Config) {
		if opts.Engine != "" {
			c.Engine = opts.Engine
		}
		if opts.DataDir != "" {
			c.DataDir = opts.DataDir
		}
		if opts.Endpoint != "" {
			c.Endpoint = opts.Endpoint
		}
		if opts.ListenAddr != "" {
			c.ListenAddr = opts.ListenAddr
		}
		if opts.LogLevel != "" {
			c.LogLevel = opts.LogLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// transportOptions maps the configuration onto gRPC transport options
func transportOptions(cfg *config.Config, logger log.Logger, tel telemetry.Telemetry) transport.Options {
	codec, _ := storagepb.ParseCodec(cfg.Compression)
	return transport.Options{
		Timeout: cfg.RequestTimeout,
		RetryPolicy: transport.RetryPolicy{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  cfg.BackoffFactor,
			Jitter:         cfg.Jitter,
		},
		Compression:    codec,
		MaxMessageSize: cfg.MaxMessageSize,
		TLSEnabled:     cfg.TLSEnabled,
		CertFile:       cfg.CertFile,
		KeyFile:        cfg.KeyFile,
		CAFile:         cfg.CAFile,
		Logger:         logger,
		Telemetry:      tel,
	}
}

// openStore opens the configured engine
func openStore(ctx context.Context, cfg *config.Config, logger log.Logger, tel telemetry.Telemetry) (store.Store, error) {
	switch cfg.Engine {
	case config.EngineMemory:
		return memory.New(), nil

	case config.EngineBolt:
		st, err := bolt.Open(cfg.DataDir, bolt.Options{
			Timeout: cfg.LockTimeout,
			NoSync:  cfg.NoSync,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return st, nil

	case config.EngineRemote:
		client := transport.NewGRPCClient(cfg.Endpoint, transportOptions(cfg, logger, tel))
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, fmt.Errorf("%w: unknown engine %q", config.ErrInvalidConfig, cfg.Engine)
	}
}

// runInteractive starts the interactive shell
func runInteractive(shell *Shell, engine string) {
	fmt.Printf("bucketscan (%s engine)\n", engine)
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".bucketscan_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          shell.Prompt(),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	ctx := context.Background()
	for {
		rl.SetPrompt(shell.Prompt())

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		exit, err := shell.Execute(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			continue
		}
		if exit {
			fmt.Println("Goodbye!")
			return
		}
	}
}
