package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rskv-p/natscore/conn"
)

var subQueue string

var subCmd = &cobra.Command{
	Use:   "sub <subject>",
	Short: "Subscribe and print incoming messages until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		nc, err := dial(ctx)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer nc.Close()

		sub, err := nc.Subscribe(args[0], conn.SubOpts{Queue: subQueue})
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}

		fmt.Println(styleDim.Render("listening on ") + styleSubject.Render(args[0]))
		for {
			msg, err := sub.Next(ctx)
			if errors.Is(err, conn.ErrSubscriptionClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("[%s] %s\n", styleSubject.Render(msg.Subject), string(msg.Data))
		}
	},
}

func init() {
	subCmd.Flags().StringVar(&subQueue, "queue", "", "queue group")
}
