package configs

import (
	"os"

	"github.com/hilthontt/visper-realtime/internal/infrastructure/env"
)

const configPathEnv = "VISPER_CONFIG"

// searchPaths are tried in order when neither the flag nor the environment
// names a config file.
var searchPaths = []string{
	"./config.yaml",
	"./config.yml",
	"../../config.yaml", // go run from cmd/<binary>
	"/etc/visper/config.yaml",
	"/app/config.yaml",
}

// DetermineConfigPath resolves the config file from the -config flag value,
// VISPER_CONFIG, or the first existing search path. An empty result means
// defaults and environment only.
func DetermineConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if fromEnv := env.GetString(configPathEnv, ""); fromEnv != "" {
		return fromEnv
	}
	return firstExisting(searchPaths)
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
