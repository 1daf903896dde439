// Command cleanroom watches and changes room status as one user.
//
//	cleanroom [flags] watch
//	cleanroom [flags] set ROOM STATUS [--incubator LABEL]
//	cleanroom [flags] notifications [--follow] [--read-all]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/access"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/client"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/engine"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/logging"
)

type options struct {
	configPath string
	server     string
	user       string
	logLevel   string
	incubator  string
	follow     bool
	readAll    bool
	limit      int
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("cleanroom", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to a config file with a sync section")
	flags.StringVarP(&opts.server, "server", "s", "", "server base URL (overrides sync.server_url)")
	flags.StringVarP(&opts.user, "user", "u", "", "user id to act as (overrides sync.user_id)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides log.level)")
	flags.StringVarP(&opts.incubator, "incubator", "i", "", "incubator label for set")
	flags.BoolVarP(&opts.follow, "follow", "f", false, "keep printing new notifications")
	flags.BoolVar(&opts.readAll, "read-all", false, "mark every notification read")
	flags.IntVarP(&opts.limit, "limit", "n", 50, "notifications to list")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: cleanroom [flags] watch | set ROOM STATUS | notifications")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, flags.Args()); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := &config.Config{}
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", opts.configPath, err)
		}
		cfg = loaded
	} else {
		cfg.Log.Level = "warn"
		cfg.WorkerPool.Size = 1
		cfg.ApplyDefaults()
	}
	if opts.server != "" {
		cfg.Sync.ServerURL = opts.server
	}
	if opts.user != "" {
		cfg.Sync.UserID = opts.user
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, opts options, args []string) error {
	c, err := client.New(cfg.Sync)
	if err != nil {
		return err
	}

	switch args[0] {
	case "watch":
		return withEngine(ctx, cfg, c, func(e *engine.Engine, changed <-chan struct{}) error {
			return watch(ctx, os.Stdout, e, changed)
		})
	case "set":
		if len(args) != 3 {
			return errors.New("usage: cleanroom set ROOM STATUS [--incubator LABEL]")
		}
		var label *string
		if opts.incubator != "" {
			label = &opts.incubator
		}
		return withEngine(ctx, cfg, c, func(e *engine.Engine, _ <-chan struct{}) error {
			return setStatus(ctx, os.Stdout, e, args[1], args[2], label)
		})
	case "notifications":
		return notifications(ctx, os.Stdout, c, opts)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// withEngine runs an engine for the client's user for the duration of f.
func withEngine(ctx context.Context, cfg *config.Config, c *client.Client, f func(*engine.Engine, <-chan struct{}) error) error {
	policy, err := access.NewPolicy(cfg.Policy.Actions)
	if err != nil {
		return err
	}
	recipients, err := engine.RecipientsFromConfig(cfg.Sync.Recipients)
	if err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	e := engine.New(c,
		engine.WithSyncConfig(cfg.Sync),
		engine.WithPolicy(policy),
		engine.WithRecipients(recipients),
		engine.OnChange(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	session, err := c.Session(ctx)
	if err != nil {
		return err
	}
	if err := e.Start(session); err != nil {
		return err
	}
	log.Debug().Str("user_id", session.UserID).Str("role", string(session.Role)).Msg("session started")
	defer e.Stop()

	return f(e, changed)
}
