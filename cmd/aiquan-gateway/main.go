// ABOUTME: Entry point for aiquan-gateway, the agent identity and claim server
// ABOUTME: Subcommands serve, init, health, and genkey

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/pengfeipang/aizn/internal/codec"
	"github.com/pengfeipang/aizn/internal/config"
	"github.com/pengfeipang/aizn/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _
  __ _(_) __ _ _   _  __ _ _ __
 / _' | |/ _' | | | |/ _' | '_ \
| (_| | | (_| | |_| | (_| | | | |
 \__,_|_|\__, |\__,_|\__,_|_| |_|
            |_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: AIQUAN_CONFIG env var > XDG_CONFIG_HOME/aiquan/gateway.yaml > ~/.config/aiquan/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AIQUAN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "aiquan", "gateway.yaml")
}

// getDataPath returns the path to the aiquan data directory.
// Priority: XDG_DATA_HOME/aiquan > ~/.local/share/aiquan
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "aiquan")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: aiquan-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check gateway health and store readiness")
		fmt.Println("  genkey   Print fresh credential key material")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "genkey":
		err = runGenKey()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Claims:    %s/claim/…\n", cfg.Server.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s", cfg.Database.Driver)
	if cfg.Database.Driver == config.DriverSQLite {
		gray.Printf(" (%s)", cfg.Database.Path)
	}
	fmt.Println()

	if !cfg.IsProduction() && (cfg.Credentials.EncryptionKey == "" || cfg.Credentials.HashSalt == "") {
		yellow.Print("    ! ")
		fmt.Println("Using development credential keys. Run `aiquan-gateway genkey` before going live.")
	}

	fmt.Println()

	logger.Info("starting aiquan-gateway",
		"config", configPath,
		"environment", cfg.Environment,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runHealth checks liveness, then readiness (store ping).
func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	for _, path := range []string{"/health", "/health/ready"} {
		url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		var body gateway.HealthResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: %s returned status %d", path, resp.StatusCode)
		}
		if decodeErr != nil {
			return fmt.Errorf("decoding %s response: %w", path, decodeErr)
		}
		fmt.Printf("%-14s %s\n", path, body.Status)
	}

	fmt.Println("healthy")
	return nil
}

// runGenKey prints fresh key material for the credentials and auth sections.
func runGenKey() error {
	green := color.New(color.FgGreen)

	values := make([]string, 3)
	for i := range values {
		v, err := codec.GenerateKeyMaterial()
		if err != nil {
			return err
		}
		values[i] = v
	}

	green.Println("# Add to your environment or .env file next to gateway.yaml")
	fmt.Printf("AIQUAN_ENCRYPTION_KEY=%s\n", values[0])
	fmt.Printf("AIQUAN_HASH_SALT=%s\n", values[1])
	fmt.Printf("AIQUAN_JWT_SECRET=%s\n", values[2])
	return nil
}
