// ABOUTME: Interactive config generation for aiquan-gateway init
// ABOUTME: Writes gateway.yaml plus a .env holding freshly generated key material

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pengfeipang/aizn/internal/codec"
	"github.com/pengfeipang/aizn/internal/config"
)

// initAnswers holds the values collected by runInit.
type initAnswers struct {
	Environment string
	HTTPAddr    string
	GRPCAddr    string
	BaseURL     string
	Driver      string
	DBPath      string
	DSN         string
	RedisURL    string
	LogLevel    string
	LogFormat   string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("aiquan-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDBPath := filepath.Join(getDataPath(), "aiquan.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.Environment = prompt(reader, "Environment (development/production)", config.EnvDevelopment)
	a.HTTPAddr = prompt(reader, "HTTP address", "0.0.0.0:3000")
	a.GRPCAddr = prompt(reader, "gRPC health address (empty to disable)", "")
	a.BaseURL = prompt(reader, "Public base URL for claim links", "http://localhost:3000")

	fmt.Println("\n--- Database Configuration ---")
	a.Driver = prompt(reader, "Driver (sqlite/postgres)", config.DriverSQLite)
	if a.Driver == config.DriverPostgres {
		a.DSN = prompt(reader, "PostgreSQL DSN", "postgres://aiquan@localhost:5432/aiquan?sslmode=disable")
	} else {
		a.DBPath = prompt(reader, "SQLite database path", defaultDBPath)
	}

	fmt.Println("\n--- Rate Limiting ---")
	a.RedisURL = prompt(reader, "Redis URL (empty for in-memory)", "")

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	content := renderConfig(a)

	// Reject answers the gateway would refuse to start with. Key material
	// lives in .env, so stand-ins are used for the check.
	check := strings.NewReplacer(
		"${AIQUAN_ENCRYPTION_KEY}", "check",
		"${AIQUAN_HASH_SALT}", "check",
		"${AIQUAN_JWT_SECRET}", strings.Repeat("x", config.MinJWTSecretLength),
	).Replace(content)
	if _, err := config.Parse(check, "yaml"); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	envPath := filepath.Join(configDir, ".env")
	if err := writeKeyMaterial(envPath); err != nil {
		return err
	}

	if a.Driver != config.DriverPostgres {
		if err := os.MkdirAll(filepath.Dir(a.DBPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Key material written to %s (keep it secret, keep it backed up)\n", envPath)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  aiquan-gateway serve\n")

	return nil
}

// renderConfig produces the YAML written by init. Secrets are referenced
// through environment variables, never inlined.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# aiquan-gateway configuration\n")
	cfg.WriteString("# Generated by aiquan-gateway init\n\n")

	cfg.WriteString(fmt.Sprintf("environment: \"%s\"\n\n", a.Environment))

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", a.HTTPAddr))
	if a.GRPCAddr != "" {
		cfg.WriteString(fmt.Sprintf("  grpc_addr: \"%s\"\n", a.GRPCAddr))
	}
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", a.BaseURL))
	cfg.WriteString("  shutdown_timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: \"%s\"\n", a.Driver))
	if a.Driver == config.DriverPostgres {
		cfg.WriteString(fmt.Sprintf("  dsn: \"%s\"\n", a.DSN))
	} else {
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", a.DBPath))
	}
	cfg.WriteString("\n")

	cfg.WriteString("credentials:\n")
	cfg.WriteString("  encryption_key: \"${AIQUAN_ENCRYPTION_KEY}\"\n")
	cfg.WriteString("  hash_salt: \"${AIQUAN_HASH_SALT}\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("claims:\n")
	cfg.WriteString("  token_ttl: \"24h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString("  jwt_secret: \"${AIQUAN_JWT_SECRET}\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("rate_limit:\n")
	if a.RedisURL != "" {
		cfg.WriteString(fmt.Sprintf("  redis_url: \"%s\"\n", a.RedisURL))
	}
	cfg.WriteString("  register_limit: 5\n")
	cfg.WriteString("  register_window: \"15m\"\n")
	cfg.WriteString("  api_limit: 100\n")
	cfg.WriteString("  api_window: \"1m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", a.LogFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

// writeKeyMaterial generates the codec keys and admin JWT secret into a
// .env file. An existing file is left alone so keys are never rotated by
// accident.
func writeKeyMaterial(path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Keeping existing %s\n", path)
		return nil
	}

	env := make(map[string]string, 3)
	for _, name := range []string{"AIQUAN_ENCRYPTION_KEY", "AIQUAN_HASH_SALT", "AIQUAN_JWT_SECRET"} {
		v, err := codec.GenerateKeyMaterial()
		if err != nil {
			return err
		}
		env[name] = v
	}

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("restricting %s: %w", path, err)
	}
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
