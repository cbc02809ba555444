package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/objstore"
)

var bucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Manage the data lake bucket",
}

var bucketInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the bucket, enable versioning and provision layer prefixes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("bucket"); err != nil {
			return err
		}

		backend, err := initBackend(ctx, false)
		if err != nil {
			return err
		}
		if err := objstore.NewGateway(backend).Init(ctx); err != nil {
			return eris.Wrap(err, "bucket init")
		}

		for _, layer := range catalog.Layers() {
			fmt.Fprintf(os.Stdout, "%s/%s\n", cfg.Storage.Bucket, layer.Prefix())
		}
		return nil
	},
}

func init() {
	bucketCmd.AddCommand(bucketInitCmd)
	rootCmd.AddCommand(bucketCmd)
}
