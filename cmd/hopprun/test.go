package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/hopprun"
	"pkt.systems/hopprun/internal/errs"
)

func newTestCmd() *cobra.Command {
	testCmd := &cobra.Command{
		Use:   "test <collection>",
		Short: "Run a collection document and report the results",
		Args:  cobra.ExactArgs(1),
		RunE:  testE,
	}

	addLoggingFlags(testCmd.Flags())
	testCmd.Flags().String("config", "", "Config file with defaults (yaml|json|toml)")
	testCmd.Flags().StringP("env", "e", "", "Path to environment document")
	testCmd.Flags().String("dotenv", "", "Path to a .env file supplying secret variables")
	testCmd.Flags().IntP("delay", "d", 0, "Delay between requests (ms)")
	testCmd.Flags().Int("iteration-count", 0, "Run the collection this many times (default: one per data row, or 1)")
	testCmd.Flags().String("iteration-data", "", "Path to CSV or JSON iteration data")
	testCmd.Flags().Int("timeout", 15, "Per-request timeout seconds")
	testCmd.Flags().String("reporter-junit", "", "Write JUnit XML report to path")
	testCmd.Flags().String("reporter-json", "", "Write JSON report to path")
	testCmd.Flags().String("reporter-html", "", "Write HTML report to path")
	testCmd.Flags().Bool("no-color", false, "Disable colored summary output")
	testCmd.Flags().Bool("insecure", false, "Skip TLS verification")
	testCmd.Flags().String("cacert", "", "Path to custom CA certificate (PEM)")
	testCmd.Flags().Bool("ignore-truststore", false, "Use only the provided CA certificate")
	testCmd.Flags().String("client-cert-config", "", "Path to client certificate config JSON {\"cert\":\"\",\"key\":\"\"}")
	testCmd.Flags().Bool("noproxy", false, "Disable proxy (ignore environment)")
	testCmd.Flags().Bool("disable-cookies", false, "Do not store/send cookies between requests")

	return testCmd
}

func testE(cmd *cobra.Command, args []string) error {
	logger := loggerFromCmd(cmd)
	v, err := loadConfig(cmd)
	if err != nil {
		return fail(logger, err)
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}

	envPath := v.GetString("env")
	secrets, err := secretLookup(v.GetString("dotenv"), envPath)
	if err != nil {
		return fail(logger, err)
	}

	timeout := time.Duration(v.GetInt("timeout")) * time.Second
	var co clientOptions
	co.Insecure, _ = cmd.Flags().GetBool("insecure")
	co.CACert, _ = cmd.Flags().GetString("cacert")
	co.IgnoreTruststore, _ = cmd.Flags().GetBool("ignore-truststore")
	co.ClientCertConfig, _ = cmd.Flags().GetString("client-cert-config")
	co.NoProxy, _ = cmd.Flags().GetBool("noproxy")
	co.DisableCookies, _ = cmd.Flags().GetBool("disable-cookies")
	co.Timeout = timeout
	client, err := newHTTPClient(co)
	if err != nil {
		return fail(logger, errs.Wrap(errs.InvalidArgument, err, ""))
	}

	r, err := hopprun.New(cmd.Context(), hopprun.WithLogger(logger), hopprun.WithHTTPClient(client), hopprun.WithTimeout(timeout))
	if err != nil {
		return fail(logger, err)
	}
	sum, err := r.RunFile(cmd.Context(), args[0], hopprun.RunOptions{
		EnvPath:           envPath,
		Secrets:           secrets,
		IterationCount:    v.GetInt("iteration-count"),
		IterationDataPath: v.GetString("iteration-data"),
		Delay:             time.Duration(v.GetInt("delay")) * time.Millisecond,
	})
	if err != nil {
		return fail(logger, err)
	}

	printSummary(cmd.OutOrStdout(), sum)

	for _, format := range []string{"junit", "json", "html"} {
		if path := v.GetString("reporter-" + format); path != "" {
			if err := hopprun.WriteReport(format, path, sum, logger); err != nil {
				return fail(logger, err)
			}
		}
	}
	if !sum.Result {
		return exitError{code: 1}
	}
	return nil
}

func fail(logger pslog.Base, err error) error {
	logger.Error("run.failed", "code", string(errs.CodeOf(err)), "err", err)
	return exitError{code: 1}
}
