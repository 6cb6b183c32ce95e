package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage authd configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default authd.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

const defaultConfig = `# authd configuration

server:
  host: 0.0.0.0
  port: 8080
  cors_origins:
    - "*"
  admin_token: ""   # Set via AUTHD_SERVER_ADMIN_TOKEN; system API is off while empty

# Credential store. sqlite keeps data under the data directory; postgres
# takes a connection string in dsn.
store:
  driver: sqlite
  dsn: ""

# Session token verification. The identity provider signs session tokens
# with this shared secret.
session:
  secret: ""        # Set via AUTHD_SESSION_SECRET (required)

# Credential cache
cache:
  size: 4096
  ttl: 60s
  lookup_timeout: 3s

# Account lockout
lockout:
  threshold: 5
  window: 15m
  lock_for: 15m

# Fire-and-forget audit event collector. Disabled while empty.
audit:
  url: ""

# Trace store internal API. /api/v1/traces is unavailable while empty.
traces:
  url: ""

# Logging
log:
  level: info    # debug, info, warn, error
  format: text   # text or json
`

func runConfigInit(force bool) error {
	path := "authd.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Set session.secret and run 'authd serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigShow() error {
	initConfig()

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("# Config file: %s\n", configFile)
	} else {
		fmt.Println("# Config file: (none found, using defaults)")
	}

	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("# No configuration settings loaded.")
		fmt.Println("# Run 'authd config init' to create a default configuration file.")
		return nil
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("render configuration: %w", err)
	}
	fmt.Print(string(out))

	return nil
}
