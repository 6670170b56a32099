package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mythnote/internal"
	pkgconfig "github.com/starford/mythnote/pkg/config"
)

func loadConfig(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return []internal.Option{internal.WithConfig(cfg)}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func rebuildIndex(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunRebuild(ctx, int64(cmd.Int("user")), opts...)
}

func syncRepos(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunSync(ctx, int64(cmd.Int("user")), opts...)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func userFlag(usage string) cli.Flag {
	return &cli.IntFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   usage,
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "mythnote",
		Usage:  "Markdown note store with a SQLite index and per-user git sync",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, file watcher and sync worker",
				Action: serve,
			},
			{
				Name:   "rebuild",
				Usage:  "Rebuild the index from the note files",
				Flags:  []cli.Flag{userFlag("Rebuild only this user (default: all users on disk)")},
				Action: rebuildIndex,
			},
			{
				Name:   "sync",
				Usage:  "Sync note repositories with their git remotes once",
				Flags:  []cli.Flag{userFlag("Sync only this user (default: all configured users)")},
				Action: syncRepos,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
