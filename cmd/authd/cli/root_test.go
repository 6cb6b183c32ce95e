package cli

import (
	"testing"

	"github.com/spf13/viper"
)

// Container deployments configure authd entirely through AUTHD_* env
// vars, so dotted config keys must map onto their underscore forms.
func TestEnvVarsMapToDottedKeys(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Setenv("AUTHD_SESSION_SECRET", "from-env")
	t.Setenv("AUTHD_SERVER_ADMIN_TOKEN", "admin-from-env")
	t.Setenv("AUTHD_LOCKOUT_THRESHOLD", "8")

	initConfig()

	if got := viper.GetString("session.secret"); got != "from-env" {
		t.Fatalf("session.secret = %q, want %q", got, "from-env")
	}
	if got := viper.GetString("server.admin_token"); got != "admin-from-env" {
		t.Fatalf("server.admin_token = %q, want %q", got, "admin-from-env")
	}
	if got := viper.GetInt("lockout.threshold"); got != 8 {
		t.Fatalf("lockout.threshold = %d, want 8", got)
	}
}

func TestEnvVarsYieldToExplicitSet(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Setenv("AUTHD_LOG_LEVEL", "debug")
	initConfig()
	viper.Set("log.level", "info")

	if got := viper.GetString("log.level"); got != "info" {
		t.Fatalf("log.level = %q, want %q", got, "info")
	}
}
