// Package command provides CLI command definitions for redstore-cli.
//
// It uses urfave/cli/v2 for command parsing and supports both
// single-command mode and interactive REPL mode.
package command

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yxlane/redstore-go/internal/cli/client"
	"github.com/yxlane/redstore-go/internal/infra/buildinfo"
)

// App creates the CLI application.
//
// With arguments it runs a single command and exits; without arguments it
// drops into an interactive REPL.
func App() *cli.App {
	return &cli.App{
		Name:      "redstore-cli",
		Usage:     "redstore command-line client",
		Version:   buildinfo.String(),
		Flags:     globalFlags(),
		ArgsUsage: "[COMMAND [ARG ...]]",
		Action:    runAction,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "redstore server address",
			EnvVars: []string{"REDSTORE_SERVER"},
			Value:   "127.0.0.1:6379",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "per-command timeout",
			Value:   5 * time.Second,
		},
	}
}

func runAction(c *cli.Context) error {
	cl, err := client.Dial(c.String("server"), c.Duration("timeout"))
	if err != nil {
		return err
	}
	defer cl.Close()

	if c.Args().Present() {
		return runOnce(cl, c.Args().Slice())
	}
	return runREPL(cl, c.String("server"))
}

func runOnce(cl *client.Client, args []string) error {
	reply, err := cl.Do(args...)
	if err != nil {
		return err
	}
	fmt.Print(FormatFrame(reply))
	return nil
}

func runREPL(cl *client.Client, addr string) error {
	fmt.Printf("connected to %s, type 'quit' to exit\n", addr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("%s> ", addr)
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if name := strings.ToLower(args[0]); name == "quit" || name == "exit" {
			_, _ = cl.Do("QUIT")
			return nil
		}

		reply, err := cl.Do(args...)
		if err != nil {
			// The connection is unusable after a transport error.
			return err
		}
		fmt.Print(FormatFrame(reply))
	}
}
