package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hako/durafmt"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"amicare/internal/config"
	"amicare/internal/dispatch"
	"amicare/internal/logging"
	"amicare/internal/session"
	"amicare/internal/socket"
	"amicare/internal/tracker"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow a live session and confirm its start and end",
		Long: `Shows the live state of a booked session. Type "s" and Enter when you are
ready to start, "e" when you are ready to end, and "q" to leave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.watch(ctx, args[0])
		},
	}
}

func (a *app) watch(ctx context.Context, sessionID string) error {
	s, err := a.find(ctx, sessionID)
	if err != nil {
		return err
	}

	a.watchConfig(ctx)

	opts := tracker.Options{
		ViewerID: a.user.ID,
		Session:  &s.Session,
		Tick:     a.cfg.Tracker.Tick,
		Refetch: func(ctx context.Context) (*session.Session, error) {
			a.cache.Invalidate()
			fresh, err := a.find(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			return &fresh.Session, nil
		},
		RefetchEvery: a.cfg.Tracker.Refetch,
	}

	conn, err := socket.Dial(ctx, socket.Options{
		URL:               a.cfg.SocketURL(),
		Token:             a.cfg.Backend.Token,
		ReconnectAttempts: a.cfg.Socket.ReconnectAttempts,
		ReconnectDelay:    a.cfg.Socket.ReconnectDelay,
		ReconnectDelayMax: a.cfg.Socket.ReconnectDelayMax,
		PingInterval:      a.cfg.Socket.PingInterval,
	})
	if err != nil {
		pterm.Warning.Println("Live updates are unavailable, showing the last known state.")
		a.log.WithError(err).Debug("socket dial failed")
	} else {
		defer conn.Close()
		opts.Joiner = tracker.SocketJoiner(conn)
	}

	t, err := tracker.New(ctx, opts)
	if err != nil {
		return err
	}
	defer t.Close()

	area, err := pterm.DefaultArea.Start()
	if err != nil {
		return err
	}
	defer area.Stop()

	title := "Session with " + displayName(s.OtherUser)
	commands := readCommands(ctx)

	reconnecting := func() bool {
		return conn != nil && !conn.Connected()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case v, ok := <-t.Updates():
			if !ok {
				return nil
			}
			area.Update(renderView(title, v, reconnecting()))

		case <-t.Finished():
			area.Update(renderView(title, t.View(), false))
			area.Stop()
			a.cache.Invalidate()
			terminalNav{}.Navigate(dispatch.RouteSessionCompleted, nil)
			return nil

		case c, ok := <-commands:
			if !ok {
				return nil
			}
			switch c {
			case "s", "start":
				err = t.Confirm(ctx)
			case "e", "end":
				err = t.ConfirmEnd(ctx)
			case "q", "quit":
				return nil
			default:
				continue
			}
			if err != nil {
				a.log.WithError(err).Warn("confirmation not delivered")
			}
		}
	}
}

// watchConfig applies log settings from the config file while watching.
func (a *app) watchConfig(ctx context.Context) {
	if _, err := os.Stat(a.configPath); err != nil {
		return
	}

	w, err := config.NewWatcher(a.configPath, func(c *config.Config) {
		logging.Configure(c.Log)
	}, a.log)
	if err != nil {
		a.log.WithError(err).Debug("config watcher unavailable")
		return
	}

	go w.Run(ctx)
}

func readCommands(ctx context.Context) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case out <- strings.ToLower(strings.TrimSpace(scanner.Text())):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func renderView(title string, v tracker.View, reconnecting bool) string {
	var b strings.Builder

	b.WriteString(pterm.DefaultSection.Sprint(title))

	status := pterm.Yellow(string(v.Display))
	if v.Display == session.DisplayStarted {
		status = pterm.Green(string(v.Display))
	}
	fmt.Fprintf(&b, "Status:   %s\n", status)

	if v.Elapsed > 0 {
		fmt.Fprintf(&b, "Elapsed:  %s\n", durafmt.Parse(v.Elapsed).LimitFirstN(2))
	}

	fmt.Fprintf(&b, "You:      %s\n", readiness(v.UserConfirmed, v.UserEndConfirmed))
	fmt.Fprintf(&b, "Other:    %s\n", readiness(v.OtherUserConfirmed, v.OtherUserEndConfirmed))

	switch {
	case !v.Live:
		b.WriteString(pterm.Warning.Sprint("offline, showing last known state") + "\n")
	case reconnecting:
		b.WriteString(pterm.Warning.Sprint("connection lost, reconnecting") + "\n")
	}

	switch {
	case v.Finished:
	case v.UserConfirmed && v.Display == session.DisplayStarted:
		b.WriteString("\n[e] ready to end   [q] quit\n")
	default:
		b.WriteString("\n[s] ready to start   [q] quit\n")
	}

	return b.String()
}

func readiness(start, end bool) string {
	switch {
	case end:
		return pterm.Green("ready to end")
	case start:
		return pterm.Green("ready")
	default:
		return pterm.Gray("not ready")
	}
}
