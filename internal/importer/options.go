package importer

import "pkt.systems/pslog"

// Options describes import settings for OpenAPI conversion.
type Options struct {
	Source string
	// Output is where the collection document is written. Empty skips
	// writing.
	Output string
	// EnvOutput is where the environment document is written. Empty skips
	// writing.
	EnvOutput       string
	CollectionName  string
	GroupBy         string // tags|path
	Insecure        bool
	AllowRemoteRefs bool
	AllowFileRefs   bool
	// DisableTests replaces generated schema tests with the status check.
	DisableTests bool
	IncludePaths []string
	// Strictness controls how deep generated schema assertions go.
	// Values: "loose", "standard" (default), "strict".
	Strictness string
	Logger     pslog.Logger
}
