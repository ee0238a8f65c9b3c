package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/efp-desk/internal/desk"
	"github.com/rickgao/efp-desk/internal/model"
)

var destLimit int

var destinationsCmd = &cobra.Command{
	Use:   "destinations [partial]",
	Short: "List destinations, optionally filtered by a partial name",
	Long: `List the destinations the composer can address.

The backend's list is merged with the contacts in the config file. A partial
name filters case-insensitively, the same way composer suggestions do.

Examples:
  desk destinations
  desk destinations ali --limit 3`,
	Args: cobra.MaximumNArgs(1),
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

		if err := d.Directory().Load(cmd.Context()); err != nil {
			logger.Warn("showing static contacts only", "err", err)
		}

		var dests []model.Destination
		if len(args) == 1 {
			dests = d.Directory().Suggest(args[0], destLimit)
		} else {
			dests = d.Directory().All()
			if destLimit > 0 && len(dests) > destLimit {
				dests = dests[:destLimit]
			}
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE")
		for _, dest := range dests {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", dest.ID, dest.Name, dest.Type)
		}
		return tw.Flush()
	},
}

func init() {
	destinationsCmd.Flags().IntVarP(&destLimit, "limit", "n", 0, "maximum entries to show (0 = all)")
	rootCmd.AddCommand(destinationsCmd)
}
