package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rskv-p/natscore/conn"
	"github.com/rskv-p/natscore/natserr"
)

var requestNoMux bool

var requestCmd = &cobra.Command{
	Use:   "request <subject> <data>",
	Short: "Send one request and print the reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		nc, err := dial(ctx)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer nc.Close()

		rctx, cancel := context.WithTimeout(ctx, timeoutFlag)
		defer cancel()

		msg, err := nc.Request(rctx, args[0], []byte(args[1]), conn.ReqOpts{
			Timeout: timeoutFlag,
			NoMux:   requestNoMux,
		})
		if err != nil {
			var nerr *natserr.Error
			if errors.As(err, &nerr) && nerr.Kind == natserr.NoResponders {
				fmt.Println(styleErr.Render("no responders"))
				return nil
			}
			return fmt.Errorf("request: %w", err)
		}

		fmt.Printf("%s %s\n", styleOK.Render("reply:"), string(msg.Data))
		return nil
	},
}

func init() {
	requestCmd.Flags().BoolVar(&requestNoMux, "no-mux", false, "use a disposable subscription instead of the shared inbox")
}
