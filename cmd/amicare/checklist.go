package main

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"amicare/internal/apperr"
	"amicare/internal/session"
)

func newChecklistCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checklist",
		Short: "Work through the shared session checklist",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <session-id>",
			Short: "Show the checklist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := a.find(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				if len(s.Checklist) == 0 {
					pterm.Info.Println("This session has no checklist.")
					return nil
				}

				data := pterm.TableData{{"ID", "Task", "Done", "At"}}
				for _, item := range s.Checklist {
					done := " "
					if item.Completed {
						done = "x"
					}
					data = append(data, []string{item.ID, item.Task, done, item.Time})
				}

				table := pterm.DefaultTable
				table.Boxed = true
				return table.WithHasHeader().WithData(data).Render()
			},
		},
		&cobra.Command{
			Use:   "toggle <session-id> <item-id>",
			Short: "Mark a checklist item done or not done",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()

				s, err := a.find(ctx, args[0])
				if err != nil {
					return err
				}

				items, ok := session.ToggleChecklistItem(s.Checklist, args[1], time.Now())
				if !ok {
					return apperr.New(apperr.CodeNotFound, "No checklist item "+args[1])
				}

				if err := a.client.UpdateChecklist(ctx, s.ID, items); err != nil {
					return err
				}
				a.cache.Invalidate()

				pterm.Success.Println("Checklist updated.")
				return nil
			},
		},
	)

	return cmd
}
