// Package hopprun runs API request collections in-process: requests grouped
// in folders, with inherited auth and headers, <<variable>> templating,
// JavaScript pre-request and test scripts, OAuth 2.0 token generation and
// data-driven iterations.
//
// Quick start:
//
//		ctx := context.Background()
//		r, _ := hopprun.New(ctx)
//		sum, _ := r.RunFile(ctx, "collection.json", hopprun.RunOptions{
//			EnvPath: "staging.env.json",
//		})
//		if !sum.Result {
//			os.Exit(1)
//		}
//
// Data-driven runs repeat the whole collection once per row of a CSV or JSON
// file, overlaying the row onto the environment:
//
//		sum, _ := r.RunFile(ctx, "collection.json", hopprun.RunOptions{
//			EnvPath:           "staging.env.json",
//			IterationDataPath: "users.csv",
//			Delay:             250 * time.Millisecond,
//		})
//
// Secret environment variables left blank in the document are looked up in
// the process environment unless RunOptions.Secrets says otherwise.
//
// Transport knobs:
//
//		custom := &http.Client{Timeout: 5 * time.Second}
//		r, _ := hopprun.New(ctx, hopprun.WithHTTPClient(custom), hopprun.WithTimeout(10*time.Second))
//
// Reports:
//
//		_ = hopprun.WriteJUnitReport("reports/junit.xml", sum, logger)
//		_ = hopprun.WriteReport("json", "reports/run.json", sum, logger)
//
// The SDK keeps concrete types unexported; interaction happens through the
// Runner interface plus RunOptions and the report types defined in this
// package.
package hopprun
