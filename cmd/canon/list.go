package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"canon/ipldconv"
	"canon/list"
)

func listCreate(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("requires a collection name")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ctx.Args().Get(0)
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root, err := a.store.CreateList(ctxTimeout, name)
	if err != nil {
		return err
	}
	fmt.Printf("created list %q, root %s\n", name, root)
	return nil
}

func listAppend(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("requires a collection name and at least one JSON value")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ctx.Args().Get(0)
	nodes, err := jsonNodes(ctx.Args().Slice()[1:])
	if err != nil {
		return err
	}

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root, err := a.store.ListAppend(ctxTimeout, name, nodes...)
	if err != nil {
		return err
	}
	fmt.Printf("appended %d item(s) to %q, root %s\n", len(nodes), name, root)
	return nil
}

func listAt(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("requires a collection name and a rank")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ctx.Args().Get(0)
	i, err := parseUint(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := a.store.ListAt(ctxTimeout, name, i)
	if err != nil {
		return err
	}
	return printNodeJSON(n)
}

func listSize(ctx *cli.Context) error {
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

	size, err := a.store.ListSize(ctxTimeout, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	fmt.Println(size)
	return nil
}

func listScan(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("requires a collection name")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ctx.Args().Get(0)
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	opts := list.ScanOptions{}
	if n := ctx.Uint64("limit"); n > 0 {
		opts.Limit = &n
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleColoredBright)
	t.AppendHeader(table.Row{"rank", "value"})

	i := uint64(0)
	for item, err := range a.store.ListScan(ctxTimeout, name, opts) {
		if err != nil {
			return err
		}
		v, err := ipldconv.ToInterface(item)
		if err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{i, string(data)})
		i++
	}
	t.Render()
	return nil
}

func listSplice(ctx *cli.Context) error {
	if ctx.NArg() < 3 {
		return fmt.Errorf("requires a collection name, a start rank, and a delete count")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ctx.Args().Get(0)
	start, err := parseUint(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	deleteCount, err := parseUint(ctx.Args().Get(2))
	if err != nil {
		return err
	}
	nodes, err := jsonNodes(ctx.Args().Slice()[3:])
	if err != nil {
		return err
	}

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root, err := a.store.ListSplice(ctxTimeout, name, start, deleteCount, nodes)
	if err != nil {
		return err
	}
	fmt.Printf("spliced %q, root %s\n", name, root)
	return nil
}

func init() {
	commands = append(commands, &cli.Command{
		Name:  "list",
		Usage: "work with IndexedList collections",
		Subcommands: []*cli.Command{
			{Name: "create", Usage: "create an empty list", ArgsUsage: "<name>", Action: listCreate},
			{
				Name:      "append",
				Usage:     "append one or more JSON values",
				ArgsUsage: "<name> <json-value>...",
				Action:    listAppend,
			},
			{Name: "at", Usage: "print the item at a rank", ArgsUsage: "<name> <rank>", Action: listAt},
			{Name: "size", Usage: "print the item count", ArgsUsage: "<name>", Action: listSize},
			{
				Name:      "scan",
				Usage:     "list items in rank order",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "limit", Aliases: []string{"n"}, Usage: "maximum rows to print"},
				},
				Action: listScan,
			},
			{
				Name:      "splice",
				Usage:     "remove and/or insert items at a rank",
				ArgsUsage: "<name> <start> <delete-count> [json-value...]",
				Action:    listSplice,
			},
		},
	})
}
