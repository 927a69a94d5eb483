package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"canon/store"
)

const (
	DefaultDataDir = "./.data"
	AppName        = "canon"
	AppVersion     = "1.0.0"
)

// config is the YAML-sourced store configuration a canon invocation loads
// before opening anything. Every field has a flag/env override so a config
// file is convenient, not required.
type config struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	SchemaDir  string `yaml:"schema_dir"`
}

func loadConfig(ctx *cli.Context) (config, error) {
	cfg := config{DataDir: DefaultDataDir}

	if path := ctx.String("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := ctx.String("data"); v != "" {
		cfg.DataDir = v
	}
	if v := ctx.String("sqlite"); v != "" {
		cfg.SQLitePath = v
	}
	if v := ctx.String("schemas"); v != "" {
		cfg.SchemaDir = v
	}
	return cfg, nil
}

// app holds the open store every command needs. Every Action func opens its own app and closes it on return,
// the same lifecycle the teacher's initApp/Close pair gave each ds command.
type app struct {
	store *store.Store
}

func initApp(ctx *cli.Context) (*app, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.Open(context.Background(), cfg.DataDir, store.Options{
		SQLitePath: cfg.SQLitePath,
		SchemaDir:  cfg.SchemaDir,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{store: s}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// commands is populated by each subcommand file's init(), grouped by area
// (list, map, dir, CAR) rather than one file per leaf command.
var commands []*cli.Command

func main() {
	cliApp := &cli.App{
		Name:    AppName,
		Usage:   "inspect and edit a canon repository's collections",
		Version: AppVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "repository data directory",
				EnvVars: []string{"CANON_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file (data_dir, sqlite_path, schema_dir)",
				EnvVars: []string{"CANON_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "sqlite",
				Usage:   "path to the search index's SQLite database",
				EnvVars: []string{"CANON_SQLITE_PATH"},
			},
			&cli.StringFlag{
				Name:    "schemas",
				Usage:   "directory of IPLD schema DSL files",
				EnvVars: []string{"CANON_SCHEMA_DIR"},
			},
		},
		Commands: commands,
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
