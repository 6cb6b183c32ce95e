package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scopeline/authd/internal/cache"
	"github.com/scopeline/authd/internal/secret"
	"github.com/scopeline/authd/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, and revoke the API keys used to authenticate against the Scopeline API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// openCredentials wires a credential service for offline CLI use. No audit
// collector is attached; CLI operations are logged locally only.
func openCredentials() (*service.Credentials, func(), error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open credential store: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	credCache := cache.New(store, 16, time.Minute, time.Second)
	return service.NewCredentials(store, credCache, nil, logger), func() { store.Close() }, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name        string
		org         string
		user        string
		project     string
		kind        string
		permissions string
		rateLimit   int
		allowedIPs  string
		ttl         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for an organization. The raw key is shown once and cannot be retrieved again.",
		Example: `  authd key create --org org-1 --user u-1 --name "CI pipeline" --permissions traces:read
  authd key create --org org-1 --user u-1 --name staging --kind test --ttl 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := service.CreateSpec{
				Name:        name,
				Kind:        secret.Kind(kind),
				UserID:      user,
				OrgID:       org,
				ProjectID:   project,
				Permissions: splitList(permissions),
				RateLimit:   rateLimit,
				AllowedIPs:  splitList(allowedIPs),
			}
			if ttl > 0 {
				expires := time.Now().Add(ttl)
				spec.ExpiresAt = &expires
			}
			return runKeyCreate(spec)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&org, "org", "", "Organization the key belongs to (required)")
	cmd.Flags().StringVar(&user, "user", "", "User the key acts on behalf of (required)")
	cmd.Flags().StringVar(&project, "project", "", "Project to scope the key to")
	cmd.Flags().StringVar(&kind, "kind", "live", "Key kind: live or test")
	cmd.Flags().StringVar(&permissions, "permissions", "", "Comma-separated permissions, e.g. traces:read,traces:write")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per minute (default 60)")
	cmd.Flags().StringVar(&allowedIPs, "allowed-ips", "", "Comma-separated IP allow-list")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Key lifetime, e.g. 720h (default: no expiry)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyCreate(spec service.CreateSpec) error {
	creds, closeStore, err := openCredentials()
	if err != nil {
		return err
	}
	defer closeStore()

	cred, raw, err := creds.Create(context.Background(), spec)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", raw)
	fmt.Printf("  ID:     %s\n", cred.ID)
	fmt.Printf("  Org:    %s\n", cred.OrgID)
	if cred.ProjectID != "" {
		fmt.Printf("  Project: %s\n", cred.ProjectID)
	}
	if len(cred.Permissions) > 0 {
		fmt.Printf("  Permissions: %s\n", strings.Join(cred.Permissions, ", "))
	}
	if cred.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", cred.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		org        string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List an organization's API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(org, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "Organization to list keys for (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKeyList(org string, jsonOutput bool) error {
	creds, closeStore, err := openCredentials()
	if err != nil {
		return err
	}
	defer closeStore()

	keys, err := creds.List(context.Background(), org)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys for this organization. Use 'authd key create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-14s %-24s %-10s\n", "ID", "PREFIX", "NAME", "RATE/MIN")
	fmt.Printf("%-38s %-14s %-24s %-10s\n", "--", "------", "----", "--------")
	for _, k := range keys {
		fmt.Printf("%-38s %-14s %-24s %-10d\n", k.ID, k.Prefix, k.Name, k.RateLimit)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	var org string

	cmd := &cobra.Command{
		Use:   "revoke <id-or-prefix>",
		Short: "Revoke an API key",
		Long:  "Delete an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(org, args[0])
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "Organization the key belongs to (required)")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKeyRevoke(org, ref string) error {
	creds, closeStore, err := openCredentials()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	keys, err := creds.List(ctx, org)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	var matchedID, matchedPrefix string
	for i := range keys {
		if keys[i].ID == ref || strings.HasPrefix(keys[i].Prefix, ref) {
			matchedID = keys[i].ID
			matchedPrefix = keys[i].Prefix
			break
		}
	}
	if matchedID == "" {
		return fmt.Errorf("no API key matching %q in organization %q", ref, org)
	}

	if err := creds.Delete(ctx, matchedID, "cli"); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key %s (%s)\n", matchedID, matchedPrefix)
	return nil
}
