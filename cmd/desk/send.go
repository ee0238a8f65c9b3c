package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/efp-desk/internal/desk"
)

var errCommandFailed = errors.New("command failed")

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Dispatch one command and print the reply",
	Long: `Dispatch one command to the backend and print the reply.

Destination names known to the directory are replaced with their ids before
the message is sent.

Examples:
  desk send send hello to Alice
  desk send "send SX5E -3.25 bid to desk-chat"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		d := desk.New(*cfg, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			d.Close(ctx)
		}()

		ctx := cmd.Context()
		// Failures fall back to the static contacts.
		_ = d.Directory().Load(ctx)

		reply, ok := d.Composer().Submit(ctx, strings.Join(args, " "))
		if !ok {
			return errors.New("empty command")
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
		if reply.Failed {
			return errCommandFailed
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
