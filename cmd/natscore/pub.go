package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pubCmd = &cobra.Command{
	Use:   "pub <subject> <data>",
	Short: "Publish one message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		nc, err := dial(ctx)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer nc.Close()

		subject, data := args[0], args[1]
		if err := nc.Publish(subject, []byte(data)); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		if err := nc.FlushTimeout(timeoutFlag); err != nil {
			return fmt.Errorf("flush: %w", err)
		}

		fmt.Println(styleOK.Render("published") + " to " + styleSubject.Render(subject))
		return nil
	},
}
