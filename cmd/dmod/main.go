// Package main implements the dmod command line client for the request
// service: session management, job submission and dataset operations over
// the websocket protocol.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/NOAA-OWP/DMOD-sub002/client"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/security"
	"github.com/NOAA-OWP/DMOD-sub002/transport"
)

var rootCmd = &cobra.Command{
	Use:           "dmod",
	Short:         "Client for the DMOD request service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("url", "wss://localhost:3012", "request service websocket URL")
	pf.String("username", "", "username for session authentication")
	pf.String("user-secret", "", "user secret (defaults to $DMOD_USER_SECRET)")
	pf.String("session-file", "", "session cache file (defaults to ~/.dmod_session)")
	pf.String("ca-file", "", "CA certificate file for the service TLS cert")
	pf.String("ca-path", "", "directory of CA certificates")
	pf.Bool("insecure", false, "skip TLS certificate verification")
	pf.Duration("timeout", 60*time.Second, "per-request timeout")
	pf.String("log-level", "warn", "log level: debug, info, warn, error")
}

// clientStack bundles the layered clients a command needs.
type clientStack struct {
	transport *transport.Client
	requests  *client.RequestClient
	external  *client.ExternalRequestClient
	timeout   time.Duration
}

func buildClients(cmd *cobra.Command) (*clientStack, error) {
	flags := cmd.Flags()
	url, _ := flags.GetString("url")
	username, _ := flags.GetString("username")
	userSecret, _ := flags.GetString("user-secret")
	sessionFile, _ := flags.GetString("session-file")
	caFile, _ := flags.GetString("ca-file")
	caPath, _ := flags.GetString("ca-path")
	insecure, _ := flags.GetBool("insecure")
	timeout, _ := flags.GetDuration("timeout")
	logLevel, _ := flags.GetString("log-level")

	if userSecret == "" {
		userSecret = os.Getenv("DMOD_USER_SECRET")
	}

	logger := newLogger(logLevel)
	tlsCfg := security.ClientTLSConfig{
		CAFile:   caFile,
		CAPath:   caPath,
		Insecure: insecure,
	}

	tc, err := transport.NewClient(url, tlsCfg, logger)
	if err != nil {
		return nil, err
	}

	requests := client.NewRequestClient(tc, logger)
	auth, err := client.NewCachedAuthClient(requests, username, userSecret, sessionFile, logger)
	if err != nil {
		return nil, err
	}

	return &clientStack{
		transport: tc,
		requests:  requests,
		external:  client.NewExternalRequestClient(requests, auth, logger),
		timeout:   timeout,
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
