package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/rskv-p/natscore/conn"
)

// replCmd is an interactive session: each line is shlex-tokenized into one
// of a tiny built-in verb set (pub/sub/request/quit).
var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive pub/sub/request session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		nc, err := dial(ctx)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer nc.Close()

		fmt.Println(styleDim.Render("connected. commands: pub <subject> <data> | sub <subject> | request <subject> <data> | quit"))
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print(stylePrompt.Render("natscore> "))
			if !scanner.Scan() {
				return nil
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			tokens, err := shlex.Split(line)
			if err != nil || len(tokens) == 0 {
				fmt.Println(styleErr.Render("parse error: ") + line)
				continue
			}
			if !replDispatch(ctx, nc, tokens) {
				return nil
			}
		}
	},
}

func replDispatch(ctx context.Context, nc *conn.Conn, tokens []string) bool {
	switch tokens[0] {
	case "quit", "exit":
		return false

	case "pub":
		if len(tokens) != 3 {
			fmt.Println(styleErr.Render("usage: pub <subject> <data>"))
			return true
		}
		if err := nc.Publish(tokens[1], []byte(tokens[2])); err != nil {
			fmt.Println(styleErr.Render(err.Error()))
			return true
		}
		fmt.Println(styleOK.Render("ok"))

	case "sub":
		if len(tokens) != 2 {
			fmt.Println(styleErr.Render("usage: sub <subject>"))
			return true
		}
		sub, err := nc.Subscribe(tokens[1], conn.SubOpts{Max: 1, Timeout: 5 * time.Second})
		if err != nil {
			fmt.Println(styleErr.Render(err.Error()))
			return true
		}
		msg, err := sub.Next(ctx)
		if err != nil {
			fmt.Println(styleErr.Render(err.Error()))
			return true
		}
		fmt.Printf("[%s] %s\n", styleSubject.Render(msg.Subject), string(msg.Data))

	case "request":
		if len(tokens) != 3 {
			fmt.Println(styleErr.Render("usage: request <subject> <data>"))
			return true
		}
		rctx, cancel := context.WithTimeout(ctx, timeoutFlag)
		defer cancel()
		msg, err := nc.Request(rctx, tokens[1], []byte(tokens[2]), conn.ReqOpts{Timeout: timeoutFlag})
		if err != nil {
			fmt.Println(styleErr.Render(err.Error()))
			return true
		}
		fmt.Printf("%s %s\n", styleOK.Render("reply:"), string(msg.Data))

	default:
		fmt.Println(styleErr.Render("unknown command: ") + tokens[0])
	}
	return true
}
