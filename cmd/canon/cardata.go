package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func exportCAR(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("requires a collection name and an output path")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := ctx.Args().Get(0)
	outPath := ctx.Args().Get(1)

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer f.Close()

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	if err := a.store.ExportCAR(ctxTimeout, name, f); err != nil {
		return err
	}
	fmt.Printf("exported %q to %s\n", name, outPath)
	return nil
}

func importCAR(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("requires a CAR file path")
	}
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	inPath := ctx.Args().Get(0)
	f, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", inPath, err)
	}
	defer f.Close()

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	roots, err := a.store.ImportCAR(ctxTimeout, f)
	if err != nil {
		return err
	}
	fmt.Printf("imported %s, roots:\n", inPath)
	for _, r := range roots {
		fmt.Printf("  %s\n", r)
	}
	return nil
}

func init() {
	commands = append(commands,
		&cli.Command{
			Name:      "export",
			Usage:     "write a collection's reachable blocks to a CAR file",
			ArgsUsage: "<name> <out.car>",
			Action:    exportCAR,
		},
		&cli.Command{
			Name:      "import",
			Usage:     "load every block from a CAR file into the repository",
			ArgsUsage: "<in.car>",
			Action:    importCAR,
		},
	)
}
