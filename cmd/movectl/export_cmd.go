package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

type exportOptions struct {
	queryOptions
	Out string
}

func newExportCmd(g *globalOptions) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the backend's submission report for a form type",
		RunE: func(cmd *cobra.Command, _ []string) error {
			form, err := opts.form()
			if err != nil {
				return err
			}
			client, ctx, cancel, err := g.client(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()

			blob, err := client.ExportSubmissions(ctx, form, opts.listQuery())
			if err != nil {
				return err
			}
			defer blob.Body.Close() //nolint:errcheck

			path := opts.Out
			if path == "" {
				path = filepath.Base(blob.FileName)
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, blob.Body)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, n)
			return err
		},
	}
	opts.bind(cmd, true)
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (defaults to the name sent by the backend)")
	return cmd
}
