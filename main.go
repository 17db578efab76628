package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/api"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/config"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/conn"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/dispatch"
	mcpsrv "github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/mcp"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/oauth"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/token"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/tools"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/pkg/audit"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "stdio":
		cmdStdio(os.Args[2:])
	case "version":
		fmt.Printf("basecamp-mcp-server %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`basecamp-mcp-server — Basecamp 3 tool server for MCP clients

Usage:
  basecamp-mcp-server serve [--config config.toml] [--addr :5001] [--debug]
  basecamp-mcp-server stdio [--config config.toml] [--debug]
  basecamp-mcp-server version
  basecamp-mcp-server help

Commands:
  serve     Start the HTTP server (JSON API, OAuth pages, /mcp transport)
  stdio     Speak MCP over stdin/stdout for desktop clients
  version   Print version
  help      Show this help`)
}

// deps is everything the transports share, wired once from config.
type deps struct {
	cfg        *config.Config
	tokens     *token.Manager
	conns      *conn.Registry
	oauth      *oauth.Coordinator
	schemas    *tools.Registry
	dispatcher *dispatch.Dispatcher
	auditLog   audit.Logger
	logger     *slog.Logger
}

func buildDeps(configPath string, debug bool) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := token.NewFileStore(cfg.Auth.TokenFile, cfg.Auth.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}

	coord := oauth.New(oauth.Config{
		ClientID:     cfg.Basecamp.ClientID,
		ClientSecret: cfg.Basecamp.ClientSecret,
		RedirectURI:  cfg.Basecamp.RedirectURI,
		UserAgent:    cfg.Basecamp.UserAgent,
		AccountID:    cfg.Basecamp.AccountID,
		StateSecret:  cfg.Auth.StateSecret,
	}, store, logger)

	tokens := token.NewManager(store, coord,
		time.Duration(cfg.Auth.RefreshSkewSec)*time.Second, logger)

	conns := conn.NewRegistry(tokens,
		time.Duration(cfg.Connections.TTLMin)*time.Minute,
		cfg.Basecamp.AccessToken != "")

	schemas, err := tools.NewRegistry(tools.Catalogue())
	if err != nil {
		return nil, fmt.Errorf("tool catalogue: %w", err)
	}

	var auditLog audit.Logger
	if cfg.Audit.Path != "" {
		auditLog, err = audit.OpenSQLite(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
	}

	dispatcher := dispatch.New(dispatch.Config{
		UserAgent:        cfg.Basecamp.UserAgent,
		BaseURL:          cfg.Basecamp.APIBaseURL,
		AuthInstructions: "Open " + cfg.Server.PublicURL + "/ in a browser and log in with your Basecamp account, then retry.",
		PATToken:         cfg.Basecamp.AccessToken,
		PATAccountID:     cfg.Basecamp.AccountID,
	}, schemas, tokens, conns, logger, auditLog)
	if err := dispatch.RegisterBasecampHandlers(dispatcher); err != nil {
		return nil, fmt.Errorf("registering handlers: %w", err)
	}

	return &deps{
		cfg:        cfg,
		tokens:     tokens,
		conns:      conns,
		oauth:      coord,
		schemas:    schemas,
		dispatcher: dispatcher,
		auditLog:   auditLog,
		logger:     logger,
	}, nil
}

func (d *deps) close() {
	if d.auditLog != nil {
		if err := d.auditLog.Close(); err != nil {
			d.logger.Error("closing audit log", "error", err)
		}
	}
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	debug := fs.Bool("debug", false, "debug logging")
	fs.Parse(args)

	d, err := buildDeps(*configPath, *debug)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer d.close()

	if *addr != "" {
		d.cfg.Server.Addr = *addr
	}

	apiHandler := api.New(d.dispatcher, d.conns, d.tokens, d.oauth, d.schemas,
		d.cfg.Server.PublicURL, version, d.logger)

	mux := http.NewServeMux()
	apiHandler.RegisterRoutes(mux)

	srv := mcpsrv.NewServer(version, "mcp", d.schemas, d.dispatcher, d.logger)
	mux.Handle("/mcp", mcpsrv.NewHTTPHandler(srv))

	handler := api.CORS(api.RequestLog(d.logger, mux))

	d.logger.Info("basecamp-mcp-server listening",
		"version", version,
		"addr", d.cfg.Server.Addr,
		"public_url", d.cfg.Server.PublicURL,
		"tools", len(d.schemas.List()))
	if d.cfg.Audit.Path != "" {
		d.logger.Info("audit log enabled", "path", d.cfg.Audit.Path)
	}

	if err := http.ListenAndServe(d.cfg.Server.Addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdStdio(args []string) {
	fs := flag.NewFlagSet("stdio", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	debug := fs.Bool("debug", false, "debug logging")
	fs.Parse(args)

	d, err := buildDeps(*configPath, *debug)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer d.close()

	srv := mcpsrv.NewServer(version, "stdio", d.schemas, d.dispatcher, d.logger)
	d.logger.Info("serving MCP over stdio", "version", version)
	if err := mcpsrv.ServeStdio(srv); err != nil {
		log.Fatalf("stdio server error: %v", err)
	}
}
