package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/hopprun"
)

func newImportCmd() *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a collection from other formats",
	}

	openapi := &cobra.Command{
		Use:   "openapi",
		Short: "Import from OpenAPI/Swagger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromCmd(cmd)
			var opts hopprun.ImportOptions
			opts.Source, _ = cmd.Flags().GetString("source")
			opts.Output, _ = cmd.Flags().GetString("output")
			opts.EnvOutput, _ = cmd.Flags().GetString("env-output")
			opts.CollectionName, _ = cmd.Flags().GetString("collection-name")
			opts.GroupBy, _ = cmd.Flags().GetString("group-by")
			opts.Insecure, _ = cmd.Flags().GetBool("insecure")
			opts.AllowRemoteRefs, _ = cmd.Flags().GetBool("allow-remote-refs")
			opts.AllowFileRefs, _ = cmd.Flags().GetBool("allow-file-refs")
			opts.Strictness, _ = cmd.Flags().GetString("strictness")
			opts.DisableTests, _ = cmd.Flags().GetBool("disable-test-generation")
			opts.IncludePaths, _ = cmd.Flags().GetStringSlice("include-path")
			opts.Logger = logger
			if opts.Source == "" {
				return fmt.Errorf("--source is required")
			}
			if opts.Output == "" {
				return fmt.Errorf("--output is required")
			}
			_, _, err := hopprun.ImportOpenAPI(cmd.Context(), opts)
			return err
		},
	}

	addLoggingFlags(importCmd.Flags())
	addLoggingFlags(openapi.Flags())

	openapi.Flags().StringP("source", "s", "", "Path or URL to source file")
	openapi.Flags().StringP("output", "o", "", "Output path for the collection document")
	openapi.Flags().String("env-output", "", "Output path for the environment document")
	openapi.Flags().StringP("collection-name", "n", "", "Name for the imported collection")
	openapi.Flags().Bool("insecure", false, "Skip TLS verification when fetching URL")
	openapi.Flags().StringP("group-by", "g", "tags", "Group by tags|path")
	openapi.Flags().Bool("allow-remote-refs", false, "Allow following remote $refs inside the OpenAPI document")
	openapi.Flags().Bool("allow-file-refs", false, "Allow absolute/local file $refs (blocked by default for security)")
	openapi.Flags().Bool("disable-test-generation", false, "Skip generating response schema-based tests")
	openapi.Flags().String("strictness", "standard", "Schema assertion strictness: loose|standard|strict")
	openapi.Flags().StringSliceP("include-path", "i", nil, "Only import operations whose path starts with one of these prefixes (repeatable)")

	importCmd.AddCommand(openapi)
	return importCmd
}
