package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leonletto/chatsync/internal/api"
	"github.com/leonletto/chatsync/internal/config"
	"github.com/leonletto/chatsync/internal/mutation"
	"github.com/leonletto/chatsync/internal/render"
	"github.com/leonletto/chatsync/internal/session"
	"github.com/leonletto/chatsync/internal/terminal"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagConfig  string
	flagServer  string
	flagAs      string
	flagVerbose bool
	flagYes     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatsync",
		Short: "One-to-one chat kept in sync with a server of record",
		Long: `chatsync is a terminal client and reference server for one-to-one
conversations. The client holds no state of its own: every change is made
on the server and the conversation is refetched, with push events telling
it when to refetch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (or CHATSYNC_CONFIG env var)")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Server URL (or CHATSYNC_SERVER_URL env var)")
	rootCmd.PersistentFlags().StringVar(&flagAs, "as", "", "Viewer user ID (or CHATSYNC_USER_ID env var)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Debug output")
	rootCmd.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false, "Answer yes to confirmations")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("chatsync v{{.Version}} (build: " + Build + ")\n")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(openCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(sendCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger writes human-readable logs to stderr. Below --verbose only
// messages at minLevel and up are shown.
func newLogger(minLevel zerolog.Level) zerolog.Logger {
	level := minLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// loadClient resolves the client config and builds an API client for it.
func loadClient(logger zerolog.Logger) (*config.Config, *api.Client, error) {
	cfg, err := config.Load(config.Overrides{
		ConfigPath: flagConfig,
		ServerURL:  flagServer,
		ViewerID:   flagAs,
	})
	if err != nil {
		return nil, nil, err
	}
	client, err := api.NewClient(cfg.ServerURL, cfg.Viewer.ID,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return cfg, client, nil
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// displayName returns the counterpart's full name, or their ID when the
// profile cannot be fetched.
func displayName(ctx context.Context, client *api.Client, userID string) string {
	p, err := client.GetProfile(ctx, userID)
	if err != nil || p.FullName() == "" {
		return userID
	}
	return p.FullName()
}

func historyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history <counterpart>",
		Short: "Print a conversation",
		Long: `Print the full conversation between the viewer and a counterpart.

Examples:
  chatsync history bob --as alice
  chatsync history bob --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(zerolog.WarnLevel)
			cfg, client, err := loadClient(logger)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			counterpart := args[0]

			messages, err := client.ListMessages(ctx, counterpart)
			if err != nil {
				return err
			}
			if asJSON {
				output, _ := json.MarshalIndent(messages, "", "  ")
				fmt.Println(string(output))
				return nil
			}

			state := session.State{CounterpartID: counterpart, Loaded: true, Messages: messages}
			f := render.NewFormatter(terminalWidth())
			f.ShowIDs = true
			fmt.Println(f.Format(render.Render(state, cfg.Viewer.ID), displayName(ctx, client, counterpart)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output for scripting")
	return cmd
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <counterpart> <message...>",
		Short: "Send a message",
		Long: `Send one message to a counterpart. The counterpart is notified and,
if connected, refreshes their conversation.

Examples:
  chatsync send bob "are we still on for lunch?" --as alice`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(zerolog.WarnLevel)
			cfg, client, err := loadClient(logger)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			counterpart := args[0]
			body := strings.Join(args[1:], " ")

			toName := ""
			if p, err := client.GetProfile(ctx, counterpart); err == nil {
				toName = p.FullName()
			}

			presenter := terminal.New(os.Stdin, os.Stdout, terminal.WithAssumeYes(flagYes))
			ops := mutation.New(client, nil, presenter, cfg.Viewer.Profile(), mutation.WithLogger(logger))
			switch outcome := ops.Send(ctx, counterpart, toName, body); outcome {
			case mutation.Done:
				return nil
			case mutation.Rejected:
				return fmt.Errorf("message is empty")
			default:
				return fmt.Errorf("message not sent (%s)", outcome)
			}
		},
	}
}
