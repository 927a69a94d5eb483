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
	"canon/omap"
)

func mapCreate(ctx *cli.Context) error {
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

	root, err := a.store.CreateMap(ctxTimeout, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	fmt.Printf("created map %q, root %s\n", ctx.Args().Get(0), root)
	return nil
}

func mapUpsert(ctx *cli.Context) error {
	if ctx.NArg() < 3 {
		return fmt.Errorf("requires a collection name, a key, and a JSON value")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ctx.Args().Get(0)
	key := ctx.Args().Get(1)
	nodes, err := jsonNodes([]string{ctx.Args().Get(2)})
	if err != nil {
		return err
	}

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root, err := a.store.Upsert(ctxTimeout, name, key, nodes[0])
	if err != nil {
		return err
	}
	fmt.Printf("upserted %s/%s, root %s\n", name, key, root)
	return nil
}

func mapGet(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("requires a collection name and a key")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, ok, err := a.store.Get(ctxTimeout, ctx.Args().Get(0), ctx.Args().Get(1))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %q not found in %q", ctx.Args().Get(1), ctx.Args().Get(0))
	}
	return printNodeJSON(n)
}

func mapAt(ctx *cli.Context) error {
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

	for e, err := range a.store.MapScan(ctxTimeout, name, omap.ScanOptions{Lo: &i, Hi: uintPtr(i + 1)}) {
		if err != nil {
			return err
		}
		n, err := a.store.GetNode(ctxTimeout, e.Value)
		if err != nil {
			return err
		}
		fmt.Printf("%s = ", e.Key)
		return printNodeJSON(n)
	}
	return fmt.Errorf("no entry at rank %d in %q", i, name)
}

func uintPtr(v uint64) *uint64 { return &v }

func mapSize(ctx *cli.Context) error {
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

	var count uint64
	for _, err := range a.store.MapScan(ctxTimeout, ctx.Args().Get(0), omap.ScanOptions{}) {
		if err != nil {
			return err
		}
		count++
	}
	fmt.Println(count)
	return nil
}

func mapScan(ctx *cli.Context) error {
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

	opts := omap.ScanOptions{}
	if n := ctx.Uint64("limit"); n > 0 {
		opts.Limit = &n
	}
	if p := ctx.String("prefix"); p != "" {
		opts.Le = &p
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleColoredBright)
	t.AppendHeader(table.Row{"key", "value"})

	for e, err := range a.store.MapScan(ctxTimeout, name, opts) {
		if err != nil {
			return err
		}
		n, err := a.store.GetNode(ctxTimeout, e.Value)
		if err != nil {
			return err
		}
		v, err := ipldconv.ToInterface(n)
		if err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{e.Key, string(data)})
	}
	t.Render()
	return nil
}

func mapRemove(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("requires a collection name and a key")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root, err := a.store.Remove(ctxTimeout, ctx.Args().Get(0), ctx.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Printf("removed %s/%s, root %s\n", ctx.Args().Get(0), ctx.Args().Get(1), root)
	return nil
}

func init() {
	commands = append(commands, &cli.Command{
		Name:  "map",
		Usage: "work with OrderedMap collections",
		Subcommands: []*cli.Command{
			{Name: "create", Usage: "create an empty map", ArgsUsage: "<name>", Action: mapCreate},
			{
				Name:      "upsert",
				Usage:     "insert or replace a key's value",
				ArgsUsage: "<name> <key> <json-value>",
				Action:    mapUpsert,
			},
			{Name: "get", Usage: "print the value for a key", ArgsUsage: "<name> <key>", Action: mapGet},
			{Name: "at", Usage: "print the (key, value) at a rank", ArgsUsage: "<name> <rank>", Action: mapAt},
			{Name: "size", Usage: "print the entry count", ArgsUsage: "<name>", Action: mapSize},
			{
				Name:      "scan",
				Usage:     "list entries in key order",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "limit", Aliases: []string{"n"}, Usage: "maximum rows to print"},
					&cli.StringFlag{Name: "prefix", Aliases: []string{"p"}, Usage: "only keys >= this value"},
				},
				Action: mapScan,
			},
			{Name: "rm", Usage: "remove a key", ArgsUsage: "<name> <key>", Action: mapRemove},
		},
	})
}
