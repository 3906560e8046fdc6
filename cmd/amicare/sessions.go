package main

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"amicare/internal/api"
	"amicare/internal/apperr"
	"amicare/internal/session"
)

func newSessionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List your sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.cache.List(cmd.Context(), a.user.ID, a.user.IsPsw)
			if err != nil {
				return err
			}

			if len(sessions) == 0 {
				pterm.Info.Println("No sessions yet.")
				return nil
			}

			data := pterm.TableData{{"ID", "With", "Status", "Live", "Next", "Total"}}
			for _, s := range sessions {
				h := session.HeaderFor(&s.Session, a.user.ID)
				live := string(s.Display())
				switch {
				case s.LiveStatus == "":
					live = "-"
				case s.Display() == session.DisplayReady && s.MutuallyReady():
					live += " (both ready)"
				}
				data = append(data, []string{
					s.ID,
					displayName(s.OtherUser),
					string(s.Status),
					live,
					h.BookLabel,
					h.CostLabel,
				})
			}

			table := pterm.DefaultTable
			table.Boxed = true
			return table.WithHasHeader().WithData(data).Render()
		},
	}
}

// newActionCmd builds the command for one session action. Every action goes
// through its confirmation screen before the dispatcher runs it.
func newActionCmd(a *app, action session.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := a.find(ctx, args[0])
			if err != nil {
				return err
			}

			if p, ok := session.ConfirmationPrompt(action, &s.Session, time.Now()); ok {
				yes, err := confirmPrompt(p, a.assumeYes)
				if err != nil {
					return err
				}
				if !yes {
					pterm.Info.Println("Nothing changed.")
					return nil
				}
			}

			d := a.dispatcher()

			switch action {
			case session.ActionBook:
				// Booking may open the payment sheet, which owns the terminal.
				err = d.Book(ctx, s)
			case session.ActionChange:
				err = d.Change(s)
			case session.ActionCancel:
				err = withSpinner(d, "Cancelling session...", func() error { return d.Cancel(ctx, s) })
			case session.ActionAccept:
				err = withSpinner(d, "Accepting request...", func() error { return d.Accept(ctx, s) })
			case session.ActionReject:
				err = withSpinner(d, "Rejecting request...", func() error { return d.Reject(ctx, s) })
			}

			switch apperr.GetCode(err) {
			case "":
				if err != nil {
					return reported{err}
				}
				return nil
			case apperr.CodePaymentCanceled:
				pterm.Info.Println("Payment canceled, the session was not booked.")
				return nil
			case apperr.CodePayoutRequired:
				// The payout setup hint is already on screen.
				return reported{err}
			case apperr.CodePrecondition, apperr.CodeBusy, apperr.CodeInvalidState:
				return err
			default:
				// The dispatcher alerted about it.
				return reported{err}
			}
		},
	}
}

func newCommentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <session-id> <text>",
		Short: "Leave a comment on a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.AddComment(cmd.Context(), args[0], a.user.ID, args[1]); err != nil {
				return err
			}
			pterm.Success.Println("Comment added.")
			return nil
		},
	}
}

func newReportCmd(a *app) *cobra.Command {
	var (
		reason string
		info   string
	)

	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Report a problem with a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return apperr.New(apperr.CodeInvalidInput, "--reason is required")
			}

			err := a.client.Report(cmd.Context(), args[0], api.Report{
				UserID:         a.user.ID,
				Reason:         reason,
				AdditionalInfo: info,
			})
			if err != nil {
				return err
			}
			pterm.Success.Println("Report sent. Our team will follow up.")
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why you are reporting the session")
	cmd.Flags().StringVar(&info, "info", "", "Additional details")

	return cmd
}
