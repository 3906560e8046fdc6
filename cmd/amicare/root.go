package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"amicare/internal/api"
	"amicare/internal/apperr"
	"amicare/internal/config"
	"amicare/internal/dispatch"
	"amicare/internal/logging"
	"amicare/internal/payment"
	"amicare/internal/session"
)

// app carries what every command needs once configuration is loaded.
type app struct {
	configPath string
	assumeYes  bool
	verbose    bool

	cfg    *config.Config
	client *api.Client
	cache  *api.SessionCache
	user   *session.User
	log    *logrus.Entry
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "amicare",
		Short:         "Coordinate care sessions from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "amicare.yaml", "Path to the config file")
	cmd.PersistentFlags().BoolVarP(&a.assumeYes, "yes", "y", false, "Skip confirmation prompts")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		newSessionsCmd(a),
		newActionCmd(a, session.ActionBook, "Book a session"),
		newActionCmd(a, session.ActionCancel, "Cancel or withdraw from a session"),
		newActionCmd(a, session.ActionChange, "Change a pending or confirmed session"),
		newActionCmd(a, session.ActionAccept, "Accept a new session request"),
		newActionCmd(a, session.ActionReject, "Reject a new session request"),
		newWatchCmd(a),
		newPayoutCmd(a),
		newChecklistCmd(a),
		newCommentCmd(a),
		newReportCmd(a),
	)

	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	logging.Configure(cfg.Log)

	if cfg.User.ID == "" {
		return apperr.New(apperr.CodePrecondition, "user.id is not configured")
	}

	a.cfg = cfg
	a.log = logging.NewLogger("cli")
	a.client = api.NewClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout)
	a.cache = api.NewSessionCache(a.client)
	a.user = &session.User{
		ID:              cfg.User.ID,
		IsPsw:           cfg.User.IsPsw,
		StripeAccountID: cfg.User.StripeAccountID,
	}

	return nil
}

// CurrentUser implements dispatch.UserProvider.
func (a *app) CurrentUser() *session.User {
	return a.user
}

func (a *app) find(ctx context.Context, sessionID string) (*session.Enriched, error) {
	return a.cache.Find(ctx, a.user.ID, a.user.IsPsw, sessionID)
}

func (a *app) dispatcher() *dispatch.Dispatcher {
	return dispatch.New(dispatch.Deps{
		Mutator:  a.client,
		Payments: payment.NewIntentCollector(a.client, terminalSheet{assumeYes: a.assumeYes}),
		Cache:    a.cache,
		Nav:      terminalNav{},
		Alerts:   terminalAlerts{},
		Users:    a,
	})
}
