package main

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/isdmx/dissect/workdir"
)

func newPackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <dir>",
		Short: "Print a directory as the base64 tar.gz accepted by the dissect_module tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := workdir.Archive(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(data))
			return err
		},
	}
}
