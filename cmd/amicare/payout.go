package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"amicare/internal/apperr"
	"amicare/internal/payout"
)

func newPayoutCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Inspect the payout account used to get paid for sessions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the payout onboarding status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				p := a.poller()
				s, err := p.Check(cmd.Context(), a.user.StripeAccountID)
				if err != nil {
					return err
				}

				pterm.Info.Printfln("Onboarding complete: %t", s.IsOnboardingComplete)
				pterm.Info.Printfln("Charges enabled:     %t", s.ChargesEnabled)
				pterm.Info.Printfln("Payouts enabled:     %t", s.PayoutsEnabled)
				if payout.Ready(s) {
					pterm.Success.Println("You are ready to book sessions.")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "wait",
			Short: "Wait until payout onboarding is complete",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				spinner, _ := pterm.DefaultSpinner.Start("Waiting for payout onboarding to complete...")

				_, err := a.poller().Wait(cmd.Context(), a.user.StripeAccountID)
				switch {
				case err == nil:
					spinner.Success("Payout account is ready. You can book sessions now.")
					return nil
				case apperr.Is(err, apperr.CodePollExhausted):
					spinner.Warning("Still waiting on the payment processor. Run this again to keep checking.")
					return reported{err}
				default:
					spinner.Fail(apperr.UserMessage(err, err.Error()))
					return reported{err}
				}
			},
		},
	)

	return cmd
}

func (a *app) poller() *payout.Poller {
	return payout.NewPoller(a.client, payout.Options{
		InitialInterval: a.cfg.Payout.InitialInterval,
		MaxInterval:     a.cfg.Payout.MaxInterval,
		MaxElapsed:      a.cfg.Payout.MaxElapsed,
	})
}
