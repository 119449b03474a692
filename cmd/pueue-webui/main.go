// Command pueue-webui bridges a web UI to the pueue task queue over
// line-delimited JSON-RPC, on stdio or WebSocket.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drewfead/pueue-webui/internal/bridge"
	"github.com/drewfead/pueue-webui/internal/config"
	"github.com/drewfead/pueue-webui/internal/control"
	"github.com/drewfead/pueue-webui/internal/executil"
	"github.com/drewfead/pueue-webui/internal/logging"
	"github.com/drewfead/pueue-webui/internal/web"
)

// Version is set at build time
var Version = "dev"

var (
	configPath string
	stdioMode  bool
	host       string
	port       int
)

func main() {
	exitCode := run(os.Args[1:])
	os.Exit(exitCode)
}

func run(args []string) (exitCode int) {
	// Top-level panic recovery
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "main")
			fmt.Fprintf(os.Stderr, "FATAL: unrecovered panic: %v\n", r)
			exitCode = 2
		}
	}()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pueue-webui",
		Short: "JSON-RPC bridge between a web UI and pueue",
		Long: `pueue-webui translates JSON-RPC requests into pueue invocations and
pushes status and task log updates back to the client.

With --stdio it speaks one message per line on stdin/stdout. Otherwise it
listens for WebSocket connections, one session per connection, and serves
the UI's static files when websocket.static_dir is set.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBridge,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $PUEUE_WEBUI_CONFIG or user config dir)")
	root.Flags().BoolVar(&stdioMode, "stdio", false, "serve a single session on stdin/stdout")
	root.Flags().StringVar(&host, "host", "", "WebSocket listen host (overrides config)")
	root.Flags().IntVar(&port, "port", 0, "WebSocket listen port (overrides config)")

	root.AddCommand(newEditHelperCmd(), newTokenCmd(), newCallCmd())
	return root
}

// newEditHelperCmd builds the hidden command pueue_edit installs as EDITOR.
func newEditHelperCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "edit-helper <value-file> <target-file>",
		Short:  "Overwrite target-file with the contents of value-file",
		Hidden: true,
		Args:   cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bridge.RunEditHelper(args[0], args[1]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token [subject]",
		Short: "Print a WebSocket auth token signed with websocket.jwt_secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				return err
			}
			if cfg.WebSocket.JWTSecret == "" {
				err := fmt.Errorf("websocket.jwt_secret is not set")
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			subject := "pueue-webui"
			if len(args) == 1 {
				subject = args[0]
			}
			token, err := web.SignToken(cfg.WebSocket.JWTSecret, subject)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func newCallCmd() *cobra.Command {
	var url string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call <method> [param...]",
		Short: "Send one request to a running WebSocket server and print the result",
		Long: `Send one request to a running pueue-webui WebSocket server.

Each param is parsed as JSON; anything that is not valid JSON is sent as a
string. A token is signed automatically when websocket.jwt_secret is set.

Examples:
  pueue-webui call pueue status '{"json":true}'
  pueue-webui call pueue_webui_meta`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				return err
			}
			if url == "" {
				url = "ws://" + net.JoinHostPort(cfg.WebSocket.Host, fmt.Sprint(cfg.WebSocket.Port)) + "/"
			}
			if err := runCall(cmd.Context(), cfg, url, timeout, args[0], args[1:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "WebSocket URL (default from websocket.host/port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the reply")
	return cmd
}

func runCall(ctx context.Context, cfg *config.Config, url string, timeout time.Duration, method string, rawParams []string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var token string
	if cfg.WebSocket.JWTSecret != "" {
		var err error
		if token, err = web.SignToken(cfg.WebSocket.JWTSecret, "pueue-webui-call"); err != nil {
			return err
		}
	}

	stream, err := web.Dial(ctx, url, token)
	if err != nil {
		return err
	}
	client := control.NewClient(stream)
	defer client.Close()

	reply, err := client.Call(ctx, method, parseParams(rawParams)...)
	if err != nil {
		return err
	}
	if err := reply.Err(); err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, reply.Result, "", "  ") != nil {
		pretty.Reset()
		pretty.Write(reply.Result)
	}
	fmt.Println(pretty.String())
	return nil
}

func parseParams(raw []string) []any {
	params := make([]any, 0, len(raw))
	for _, p := range raw {
		if json.Valid([]byte(p)) {
			params = append(params, json.RawMessage(p))
			continue
		}
		params = append(params, p)
	}
	return params
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.WebSocket.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.WebSocket.Port = port
	}

	// stdout carries the protocol; logs go to stderr or the log file.
	if err := logging.Init(logging.Config{
		Level:     logging.ParseLevel(cfg.Log.Level),
		SentryDSN: cfg.Log.SentryDSN,
		Env:       getEnv(),
		Version:   Version,
		LogFile:   cfg.Log.File,
		Output:    os.Stderr,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	defer logging.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bridge.New(cfg, editHelperArgv())

	if stdioMode {
		logging.Info("starting pueue-webui", "version", Version, "mode", "stdio", "pueue", cfg.Pueue.Binary)
		if err := b.Serve(ctx, os.Stdin, os.Stdout); err != nil {
			logging.Error("session error", "error", err)
			return err
		}
		return nil
	}

	if _, err := executil.LookPath(cfg.Pueue.Binary); err != nil {
		logging.Error("pueue executable not found", "binary", cfg.Pueue.Binary, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s not found: %v\n", cfg.Pueue.Binary, err)
		return err
	}

	srv := web.NewServer(cfg.WebSocket, b)
	logging.Info("starting pueue-webui",
		"version", Version,
		"mode", "websocket",
		"addr", srv.Addr(),
		"sentry", cfg.Log.SentryDSN != "",
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logging.Error("server error", "error", err)
		return err
	}
	return nil
}

// editHelperArgv returns the command pueue_edit installs as EDITOR, or nil
// when this executable cannot be located.
func editHelperArgv() []string {
	exe, err := os.Executable()
	if err != nil {
		logging.Warn("pueue_edit disabled: cannot resolve executable", "error", err)
		return nil
	}
	return []string{exe, "edit-helper"}
}

func getEnv() string {
	if env := os.Getenv("PUEUE_WEBUI_ENV"); env != "" {
		return env
	}
	return "development"
}
