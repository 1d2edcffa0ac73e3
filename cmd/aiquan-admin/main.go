// ABOUTME: Admin CLI for aiquan-gateway operators
// ABOUTME: Mints admin JWTs and queries the audit trail over the HTTP admin API

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/pengfeipang/aizn/internal/auth"
	"github.com/pengfeipang/aizn/internal/config"
	"github.com/pengfeipang/aizn/internal/gateway"
)

const banner = `
       _                                 _           _
  __ _(_) __ _ _   _  __ _ _ __      __ _| |_ __ ___ (_)_ __
 / _' | |/ _' | | | |/ _' | '_ \    / _' | | '_ ' _ \| | '_ \
| (_| | | (_| | |_| | (_| | | | |  | (_| | | | | | | | | | | |
 \__,_|_|\__, |\__,_|\__,_|_| |_|   \__,_|_|_| |_| |_|_|_| |_|
            |_|
`

const requestTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	gatewayURL := getEnv("AIQUAN_GATEWAY_URL", "http://localhost:3000")
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "token":
		err = cmdToken(os.Stdout, args)
	case "audit":
		err = cmdAudit(os.Stdout, gatewayURL, getToken(), args)
	case "status":
		err = cmdStatus(gatewayURL)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: aiquan-admin <command> [flags]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  token                   Mint an admin JWT from the gateway's jwt_secret")
	fmt.Println("  audit                   List audit events (newest first)")
	fmt.Println("  status                  Show gateway liveness and readiness")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  AIQUAN_GATEWAY_URL       Gateway base URL (default: http://localhost:3000)")
	fmt.Println("  AIQUAN_ADMIN_TOKEN       Admin JWT (falls back to ~/.config/aiquan/token)")
	fmt.Println("  AIQUAN_JWT_SECRET        Signing secret for token (falls back to gateway config)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export AIQUAN_ADMIN_TOKEN=$(aiquan-admin token --subject ops@example.com)")
	fmt.Println("  aiquan-admin audit --action claim_confirm --limit 20")
	fmt.Println("  aiquan-admin audit --agent <agent-id> --since 2026-01-02T15:04:05Z")
	fmt.Println()
}

// cmdToken mints an admin token and prints it on its own line so it can be
// captured by the shell.
func cmdToken(out io.Writer, args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	subject := fs.String("subject", "", "operator identity recorded as the token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *subject == "" {
		return fmt.Errorf("--subject is required")
	}
	if *ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	secret, err := jwtSecret()
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return err
	}

	token, err := verifier.Generate(*subject, *ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}

// jwtSecret resolves the signing secret: AIQUAN_JWT_SECRET first, then the
// gateway config file.
func jwtSecret() (string, error) {
	if s := os.Getenv("AIQUAN_JWT_SECRET"); s != "" {
		return s, nil
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return "", fmt.Errorf("AIQUAN_JWT_SECRET is not set and config could not be loaded: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured; admin API is disabled")
	}
	return cfg.Auth.JWTSecret, nil
}

// auditQuery builds the query string for GET /api/v1/admin/audit from CLI flags.
func auditQuery(args []string) (url.Values, error) {
	fs := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	action := fs.String("action", "", "filter by action (agent_register, claim_view, claim_confirm)")
	agentID := fs.String("agent", "", "filter by agent ID")
	ownerID := fs.String("owner", "", "filter by owner ID")
	since := fs.String("since", "", "only events at or after this RFC3339 time")
	until := fs.String("until", "", "only events before this RFC3339 time")
	limit := fs.Int("limit", 50, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("action", *action)
	set("agent_id", *agentID)
	set("owner_id", *ownerID)
	set("since", *since)
	set("until", *until)
	if *limit > 0 {
		q.Set("limit", strconv.Itoa(*limit))
	}
	return q, nil
}

// cmdAudit lists audit events from the gateway.
func cmdAudit(out io.Writer, baseURL, token string, args []string) error {
	if token == "" {
		return fmt.Errorf("AIQUAN_ADMIN_TOKEN environment variable is required")
	}

	q, err := auditQuery(args)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/api/v1/admin/audit"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr gateway.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var list gateway.ListAuditResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	printAudit(out, list)
	return nil
}

func printAudit(out io.Writer, list gateway.ListAuditResponse) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Audit Events")
	cyan.Fprintln(out, "  ------------")

	if len(list.Events) == 0 {
		fmt.Fprintln(out, "  (no events)")
		fmt.Fprintln(out)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTION\tAGENT\tOWNER\tIP")
	fmt.Fprintln(w, "  ----\t------\t-----\t-----\t--")
	for _, e := range list.Events {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("Jan 02 15:04:05"),
			e.Action,
			truncate(deref(e.AgentID), 26),
			truncate(deref(e.OwnerID), 26),
			e.IPAddress,
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\n  %d event(s)\n\n", list.Count)
}

// cmdStatus reports liveness and readiness of the gateway.
func cmdStatus(baseURL string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	client := &http.Client{Timeout: requestTimeout}
	for _, path := range []string{"/health", "/health/ready"} {
		label := fmt.Sprintf("  %-14s", path)
		resp, err := client.Get(strings.TrimRight(baseURL, "/") + path)
		if err != nil {
			yellow.Print(label)
			color.Red("UNREACHABLE (%v)\n", err)
			return nil
		}

		var body gateway.HealthResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			green.Print(label)
			fmt.Println(body.Status)
		} else {
			yellow.Print(label)
			color.Red("%s (%d)\n", body.Status, resp.StatusCode)
		}
	}

	fmt.Println()
	return nil
}

// getConfigPath mirrors aiquan-gateway's lookup so token can read jwt_secret.
func getConfigPath() string {
	if envPath := os.Getenv("AIQUAN_CONFIG"); envPath != "" {
		return envPath
	}
	return filepath.Join(configDir(), "aiquan", "gateway.yaml")
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(homeDir, ".config")
	}
	return dir
}

func getToken() string {
	// Check env var first
	if token := os.Getenv("AIQUAN_ADMIN_TOKEN"); token != "" {
		return token
	}

	data, err := os.ReadFile(filepath.Join(configDir(), "aiquan", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
