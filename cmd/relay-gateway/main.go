// ABOUTME: Entry point for relay-gateway, the human-operator chat relay server
// ABOUTME: Dispatches the serve, health, hash-token and token subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/auth"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/config"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
          _                                 _
 _ __ ___| | __ _ _   _      __ _  __ _| |_ _____      ____ _ _   _
| '__/ _ \ |/ _' | | | |___ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| | |  __/ | (_| | |_| |___| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|  \___|_|\__,_|\__, |    \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                  |___/     |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/relay/gateway.yaml > ~/.config/relay/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "relay", "gateway.yaml")
}

// loadConfig loads the config file, falling back to defaults plus environment
// overrides when no file exists at the default location.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && os.Getenv("RELAY_CONFIG") == "" {
		cfg, err := config.Load("")
		return cfg, "(defaults)", err
	}
	cfg, err := config.Load(configPath)
	return cfg, configPath, err
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: relay-gateway <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                   Start the relay server")
	fmt.Fprintln(w, "  health                  Check relay health")
	fmt.Fprintln(w, "  hash-token TOKEN        Print a bcrypt hash for operator.token_hash")
	fmt.Fprintln(w, "  token CONVERSATION_ID   Mint a session token for a conversation")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "hash-token":
		err = runHashToken(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	// Startup info
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
	if cfg.Database.Path != "" {
		fmt.Printf("Store:     sqlite %s\n", cfg.Database.Path)
	} else {
		fmt.Print("Store:     memory ")
		gray.Println("(conversations are lost on restart)")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Operator.Token == "" && cfg.Operator.TokenHash == "" {
		yellow.Print("    ! ")
		fmt.Println("No operator token configured; set OPERATOR_TOKEN to enable the operator console")
	}

	fmt.Println()

	logger.Info("starting relay-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// healthURL builds the liveness URL for a listen address such as ":3000".
func healthURL(httpAddr string) string {
	host := httpAddr
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}
	return fmt.Sprintf("http://%s/health", host)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runHashToken(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: relay-gateway hash-token TOKEN")
	}
	hash, err := auth.HashToken(args[0])
	if err != nil {
		return fmt.Errorf("hashing token: %w", err)
	}
	fmt.Println(hash)
	return nil
}

// runToken prints a session token for the given (or a fresh) conversation id.
// It needs session.secret so the running server accepts the token.
func runToken(args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Session.Secret == "" {
		return errors.New("session.secret must be set to mint tokens the server will accept")
	}

	conversationID := uuid.New().String()
	if len(args) > 0 && args[0] != "" {
		conversationID = args[0]
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Session.Secret)).Generate(conversationID, cfg.Session.TTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Printf("conversation_id: %s\n", conversationID)
	fmt.Printf("cookie:          %s=%s\n", cfg.Session.CookieName, token)
	return nil
}
