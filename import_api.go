package hopprun

import (
	"context"

	"pkt.systems/pslog"

	"pkt.systems/hopprun/internal/importer"
)

// ImportOptions control import of OpenAPI documents into hopprun collections.
type ImportOptions struct {
	Source          string
	Output          string
	EnvOutput       string
	CollectionName  string
	GroupBy         string // tags|path
	Insecure        bool
	AllowRemoteRefs bool
	AllowFileRefs   bool
	DisableTests    bool
	Strictness      string
	IncludePaths    []string
	Logger          pslog.Logger
}

// ImportOpenAPI generates a collection document, and optionally an
// environment document, from an OpenAPI 3 or Swagger 2 document.
func ImportOpenAPI(ctx context.Context, opts ImportOptions) (Collection, Environment, error) {
	res, err := importer.ImportOpenAPI(ctx, importer.Options{
		Source:          opts.Source,
		Output:          opts.Output,
		EnvOutput:       opts.EnvOutput,
		CollectionName:  opts.CollectionName,
		GroupBy:         opts.GroupBy,
		Insecure:        opts.Insecure,
		AllowRemoteRefs: opts.AllowRemoteRefs,
		AllowFileRefs:   opts.AllowFileRefs,
		DisableTests:    opts.DisableTests,
		Strictness:      opts.Strictness,
		IncludePaths:    opts.IncludePaths,
		Logger:          opts.Logger,
	})
	return res.Collection, res.Environment, err
}
