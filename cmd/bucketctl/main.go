package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ergochat/readline"
	"github.com/urfave/cli/v2"

	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("put"),
	readline.PcItem("get"),
	readline.PcItem("rm"),
	readline.PcItem("list"),

	readline.PcItem("parents"),
	readline.PcItem("all"),
	readline.PcItem("children"),
	readline.PcItem("appropriate"),
	readline.PcItem("doc"),

	readline.PcItem("split"),
	readline.PcItem("dropnode"),
	readline.PcItem("load"),
	readline.PcItem("stats"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func main() {
	app := &cli.App{
		Name:  "bucketctl",
		Usage: "interactive shell over an in-memory bucket database",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "min-bits", Value: 16, Usage: "default minimum depth for new buckets"},
			&cli.Uint64Flag{Name: "seed", Usage: "document id hash seed"},
			&cli.StringFlag{Name: "load", Usage: "JSON lines dump to load on start"},
			&cli.StringFlag{Name: "history", Value: ".bucketctl_history", Usage: "readline history file"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bucketctl:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	minBits := c.Uint("min-bits")
	if minBits > bucket.MaxUsedBits {
		return fmt.Errorf("min-bits %d exceeds %d", minBits, bucket.MaxUsedBits)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bucketdb> ",
		HistoryFile:     c.String("history"),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	rl.CaptureExitSignal()

	sh := NewShell(bucketdb.New(), bucket.Factory{Seed: c.Uint64("seed")}, uint8(minBits), os.Stdout)
	if path := c.String("load"); path != "" {
		if err := sh.Exec("load " + path); err != nil {
			return err
		}
	}

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if len(line) == 0 {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		err = sh.Exec(strings.TrimSpace(line))
		switch {
		case errors.Is(err, errExit):
			return nil
		case err != nil:
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}
