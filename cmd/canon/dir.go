package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
)

func dirList(ctx *cli.Context) error {
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleColoredBright)
	t.SetTitle(fmt.Sprintf("collections (root %s)", a.store.Root()))
	t.AppendHeader(table.Row{"name"})
	for _, name := range a.store.Collections() {
		t.AppendRow(table.Row{name})
	}
	t.Render()
	return nil
}

func dirCreate(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("requires a kind (list|map) and a name")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	kind := ctx.Args().Get(0)
	name := ctx.Args().Get(1)

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var root interface{ String() string }
	switch kind {
	case "list":
		c, err := a.store.CreateList(ctxTimeout, name)
		if err != nil {
			return err
		}
		root = c
	case "map":
		c, err := a.store.CreateMap(ctxTimeout, name)
		if err != nil {
			return err
		}
		root = c
	default:
		return fmt.Errorf("unknown kind %q, want list or map", kind)
	}
	fmt.Printf("created %s %q, root %s\n", kind, name, root)
	return nil
}

func dirRemove(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("requires a collection name")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root, err := a.store.DeleteCollection(ctxTimeout, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	fmt.Printf("removed %q, root %s\n", ctx.Args().Get(0), root)
	return nil
}

func init() {
	commands = append(commands, &cli.Command{
		Name:  "dir",
		Usage: "inspect and edit the collection catalog",
		Subcommands: []*cli.Command{
			{Name: "ls", Usage: "list cataloged collections", Action: dirList},
			{
				Name:      "create",
				Usage:     "reserve a new collection",
				ArgsUsage: "<list|map> <name>",
				Action:    dirCreate,
			},
			{Name: "rm", Usage: "drop a collection from the catalog", ArgsUsage: "<name>", Action: dirRemove},
		},
	})
}
