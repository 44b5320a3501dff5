// Command filestore drives the storage service from the shell: single-shot
// and chunked uploads, downloads, deletes, access URLs and session sweeps.
// "filestore serve" keeps the expiry sweeper running until interrupted.
//
// Usage:
//
//	filestore [-config file] [-env file] <command> [args]
//
// Configuration is read from the config file, the .env file and FILESTORE_*
// environment variables, e.g. FILESTORE_STORAGE_PROVIDER=minio.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kbukum/filestore/bootstrap"
	"github.com/kbukum/filestore/config"
	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/observability"
	"github.com/kbukum/filestore/storage"
	"github.com/kbukum/filestore/storage/redisstore"
	"github.com/kbukum/filestore/version"
)

const envPrefix = "FILESTORE"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("filestore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "path to the YAML config file")
	envFile := fs.String("env", "", "path to a .env file")
	showVersion := fs.Bool("version", false, "print the build version and exit")
	fs.Usage = func() { usage(fs, stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.Get())
		return 0
	}
	if fs.NArg() == 0 {
		usage(fs, stderr)
		return 2
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "filestore: unknown command %q\n", fs.Arg(0))
		usage(fs, stderr)
		return 2
	}
	cmdArgs := fs.Args()[1:]
	if len(cmdArgs) < cmd.minArgs || len(cmdArgs) > cmd.maxArgs {
		fmt.Fprintf(stderr, "usage: filestore %s %s\n", fs.Arg(0), cmd.usage)
		return 2
	}

	opts := []config.LoaderOption{
		config.WithEnvPrefix(envPrefix),
		config.WithDefaults(map[string]any{"storage.enabled": true}),
	}
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	var cfg AppConfig
	if err := config.LoadConfig("filestore", &cfg, opts...); err != nil {
		fmt.Fprintf(stderr, "filestore: %v\n", err)
		return 1
	}

	if err := execute(ctx, &cfg, func(ctx context.Context, svc *storage.Service) error {
		return cmd.run(ctx, svc, cmdArgs, stdout)
	}); err != nil {
		fmt.Fprintf(stderr, "filestore: %v\n", err)
		return 1
	}
	return 0
}

// execute wires the components described by cfg and runs task against the
// started storage service.
func execute(ctx context.Context, cfg *AppConfig, task func(context.Context, *storage.Service) error) error {
	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}
	log := app.Logger

	shutdown, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	app.OnStop(func(ctx context.Context) error { return shutdown(ctx) })

	var opts []storage.Option
	if cfg.Observability.Enabled {
		metrics, err := observability.NewStorageMetrics(observability.Meter("filestore/storage"))
		if err != nil {
			return fmt.Errorf("storage metrics: %w", err)
		}
		opts = append(opts, storage.WithMetrics(metrics))
	}

	if cfg.Storage.Sessions.Store == storage.SessionStoreRedis {
		store, err := redisstore.Open(cfg.Redis, log)
		if err != nil {
			return err
		}
		if err := app.RegisterComponent(redisstore.NewComponent(store, cfg.Redis, log)); err != nil {
			return err
		}
		opts = append(opts, storage.WithSessionStore(store))
	}

	comp := storage.NewComponent(cfg.Storage, cfg.providerConfig(), log, opts...)
	if err := app.RegisterComponent(comp); err != nil {
		return err
	}

	app.OnStart(func(context.Context) error {
		if svc := comp.Service(); svc != nil {
			log.Debug("storage ready", logger.Fields(
				logger.FieldBackend, svc.Backend().Name(),
				"sessions", cfg.Storage.Sessions.Store,
			))
		}
		return nil
	})

	return app.RunTask(ctx, func(ctx context.Context) error {
		svc := comp.Service()
		if svc == nil {
			return fmt.Errorf("storage is disabled")
		}
		return task(ctx, svc)
	})
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "usage: filestore [flags] <command> [args]")
	fmt.Fprintln(w, "\ncommands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(w, "\nflags:")
	fs.PrintDefaults()
}
