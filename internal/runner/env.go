package runner

import (
	"slices"

	"pkt.systems/hopprun/internal/collection"
)

// loadEnvs builds the initial run state. The environment document, when
// given, becomes the selected list; secrets it leaves blank are looked up
// through opts.Secrets, falling back to the process environment.
func loadEnvs(opts RunOptions) (collection.Envs, error) {
	env := opts.Environment
	if opts.EnvPath != "" {
		secrets := opts.Secrets
		if secrets == nil {
			secrets = collection.OSSecrets
		}
		loaded, err := collection.LoadEnvironment(opts.EnvPath, secrets)
		if err != nil {
			return collection.Envs{}, err
		}
		env = loaded
	}
	return collection.Envs{
		Global:   slices.Clone(opts.Globals),
		Selected: slices.Clone(env.Variables),
	}, nil
}

// loadIterationData returns the data rows for a run, or nil.
func loadIterationData(opts RunOptions) (*IterationData, error) {
	if opts.IterationDataPath != "" {
		return LoadIterationData(opts.IterationDataPath)
	}
	return opts.IterationData, nil
}

// iterationCount is the explicit count, else the number of data rows, else 1.
func iterationCount(opts RunOptions, data *IterationData) int {
	if opts.IterationCount > 0 {
		return opts.IterationCount
	}
	if n := data.Len(); n > 0 {
		return n
	}
	return 1
}
