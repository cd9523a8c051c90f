package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
)

// configKeys are read from flags, HOPPRUN_* environment variables and the
// --config file, in that order of precedence.
var configKeys = []string{
	"env",
	"delay",
	"iteration-count",
	"iteration-data",
	"reporter-junit",
	"reporter-json",
	"reporter-html",
	"timeout",
	"dotenv",
}

func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("HOPPRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, err, "read config "+path)
		}
	}
	for _, key := range configKeys {
		if f := cmd.Flags().Lookup(key); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// secretLookup resolves blank secret variables from a dotenv file, then the
// process environment. Without --dotenv, a .env file beside the environment
// document is used when present.
func secretLookup(dotenvPath, envPath string) (collection.SecretLookup, error) {
	path := dotenvPath
	if path == "" && envPath != "" {
		candidate := filepath.Join(filepath.Dir(envPath), ".env")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path == "" {
		return collection.OSSecrets, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.FileNotFound, err, path)
		}
		return nil, errs.Wrap(errs.MalformedEnvFile, err, "read dotenv "+path)
	}
	return collection.ChainSecrets(collection.MapSecrets(values), collection.OSSecrets), nil
}
