package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/leonletto/chatsync/internal/chatview"
	"github.com/leonletto/chatsync/internal/mutation"
	"github.com/leonletto/chatsync/internal/render"
	"github.com/leonletto/chatsync/internal/terminal"
	"github.com/leonletto/chatsync/internal/types"
)

const openHelp = `Type a message and press enter to send it. Commands:
  /edit <id>     edit one of your messages
  /recall <id>   delete one of your messages for everyone
  /clear         delete the whole conversation
  /open <user>   switch to another conversation
  /refresh       refetch the conversation
  /menu          toggle the conversation menu
  /quit          leave`

func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <counterpart>",
		Short: "Open a live conversation",
		Long: `Open an interactive conversation that updates as messages arrive.

` + openHelp + `

Examples:
  chatsync open bob --as alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(zerolog.WarnLevel)
			cfg, client, err := loadClient(logger)
			if err != nil {
				return err
			}

			presenter := terminal.New(os.Stdin, os.Stdout, terminal.WithAssumeYes(flagYes))
			screen := &screen{
				presenter: presenter,
				formatter: render.NewFormatter(terminalWidth()),
				redraw:    make(chan struct{}, 1),
			}
			screen.formatter.ShowIDs = true

			view, err := chatview.Mount(cmd.Context(), chatview.Options{
				Client:        client,
				Viewer:        cfg.Viewer.Profile(),
				CounterpartID: args[0],
				ServerURL:     cfg.ServerURL,
				Presenter:     presenter,
				Logger:        logger,
				OnChange:      screen.invalidate,
			})
			if err != nil {
				return err
			}
			defer view.Unmount()
			screen.view = view

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go screen.drawLoop(ctx)
			screen.invalidate()

			presenter.Printf("%s\n", openHelp)
			return screen.run(ctx)
		},
	}
}

// screen redraws the conversation when the view changes and runs the
// command loop.
type screen struct {
	view      *chatview.View
	presenter *terminal.Presenter
	formatter *render.Formatter
	redraw    chan struct{}
	lastDrawn string
}

func (s *screen) invalidate() {
	select {
	case s.redraw <- struct{}{}:
	default:
	}
}

func (s *screen) drawLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.redraw:
			s.draw()
		}
	}
}

func (s *screen) draw() {
	snap := s.view.Snapshot()
	out := s.header(snap) + "\n" + s.formatter.Format(snap.Thread, counterpartName(snap)) + "\n"
	if out == s.lastDrawn {
		return
	}
	s.lastDrawn = out
	s.presenter.Printf("\n%s", out)
}

func (s *screen) header(snap chatview.Snapshot) string {
	switch snap.Profile.Status {
	case types.ProfileFound:
		line := "── " + snap.Profile.Profile.FullName()
		if snap.MenuOpen {
			line += "   [menu: /clear to delete chat]"
		}
		return line
	case types.ProfileNotFound:
		return "── " + snap.CounterpartID + " (no such user)"
	default:
		return "── " + snap.CounterpartID
	}
}

func counterpartName(snap chatview.Snapshot) string {
	if snap.Profile.Status == types.ProfileFound {
		return snap.Profile.Profile.FullName()
	}
	return snap.CounterpartID
}

func (s *screen) run(ctx context.Context) error {
	for {
		line, err := s.presenter.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			s.presenter.Printf("%s\n", openHelp)
		case "/edit":
			s.report(s.view.Edit(ctx, arg))
		case "/recall":
			s.report(s.view.Recall(ctx, arg))
		case "/clear":
			s.report(s.view.Clear(ctx))
		case "/menu":
			s.view.ToggleMenu()
		case "/refresh":
			_ = s.view.Refresh(ctx)
		case "/open":
			if arg == "" {
				s.presenter.Printf("usage: /open <user>\n")
				continue
			}
			_ = s.view.Navigate(ctx, arg)
		default:
			if strings.HasPrefix(cmd, "/") {
				s.presenter.Printf("unknown command %s (try /help)\n", cmd)
				continue
			}
			s.view.SetDraft(line)
			s.view.Send(ctx)
		}
		s.invalidate()
	}
}

// report prints outcomes the presenter did not already acknowledge.
func (s *screen) report(outcome mutation.Outcome) {
	switch outcome {
	case mutation.Rejected:
		s.presenter.Printf("nothing to do: unknown message, or not one of yours\n")
	case mutation.Cancelled:
		s.presenter.Printf("cancelled\n")
	}
}
