package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/zeu5/traffic-signal-rl/config"
	"github.com/zeu5/traffic-signal-rl/rl"
	"github.com/zeu5/traffic-signal-rl/storage"
)

func RemoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Inspect the artifacts in the object store",
	}
	cmd.AddCommand(remoteListCommand())
	return cmd
}

func remoteListCommand() *cobra.Command {
	var (
		configPath string
		prefix     string
		suffix     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored objects, by default the trained models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadTesting(configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("prefix") {
				prefix = cfg.S3.Prefix
			}
			store, err := openStore(cfg.S3, cfg.Storage)
			if err != nil {
				return err
			}
			if store == nil {
				return storage.ErrNoBucket
			}
			ctx, done := interruptible(context.Background())
			defer done()
			return listRemote(ctx, store, prefix, suffix, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", TestingSettingsFile, "Settings file holding the [s3] and [storage] sections")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix, defaults to [s3] prefix")
	cmd.Flags().StringVar(&suffix, "suffix", rl.ModelFile, "Only list keys ending with this suffix")
	return cmd
}

func listRemote(ctx context.Context, store storage.ObjectStore, prefix, suffix string, out io.Writer) error {
	objects, err := store.List(ctx, prefix, suffix)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED")
	for _, o := range objects {
		fmt.Fprintf(w, "%s\t%s\t%s\n", storage.URL(store.Bucket(), o.Key), humanize.Bytes(uint64(o.Size)), o.LastModified.Format(time.DateTime))
	}
	return w.Flush()
}
