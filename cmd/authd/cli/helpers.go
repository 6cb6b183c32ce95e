package cli

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/scopeline/authd/internal/config"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// AUTHD_DATA_DIR env var, or ~/.authd as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("AUTHD_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.authd"
}

// openStore opens the credential store configured under the store.* keys.
// The default is embedded SQLite in the data directory.
func openStore() (*config.Store, error) {
	driver := viper.GetString("store.driver")
	dsn := viper.GetString("store.dsn")
	if driver == "" || driver == "sqlite" {
		driver = "sqlite"
		if dsn == "" {
			dsn = resolveDataDir()
		}
	}
	return config.NewStore(driver, dsn)
}

// splitList parses a comma-separated flag value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
