package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seomaster/report_server/internal/client"
	"github.com/seomaster/report_server/internal/model/dto"
	"github.com/seomaster/report_server/internal/override"
	"github.com/seomaster/report_server/internal/poller"
)

func (a *app) loginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = os.Getenv("REPORTCTL_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or REPORTCTL_PASSWORD) are required")
			}

			path, err := a.sessionPath()
			if err != nil {
				return err
			}
			server := a.server(nil)

			c := client.New(server, "")
			resp, err := c.Login(cmd.Context(), email, password)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.StatusCode == 403 {
					return fmt.Errorf("%s: verify your email first", apiErr.Message)
				}
				return err
			}

			if err := client.SaveSession(path, &client.Session{Server: server, Email: resp.User.Email, Token: resp.Token}); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", resp.User.Email)
			return nil
		},
	}
	cmd.Flags().String("email", "", "Account email")
	cmd.Flags().String("password", "", "Account password")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.sessionPath()
			if err != nil {
				return err
			}
			if err := client.ClearSession(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (a *app) createCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <website>",
		Short: "Create a report (analysis starts on first view)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authedClient()
			if err != nil {
				return err
			}
			options, _ := cmd.Flags().GetString("options")

			meta, err := c.CreateReport(cmd.Context(), args[0], options)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created report %s for %s (%s)\n", meta.ID, meta.Website, meta.Status)

			if watch, _ := cmd.Flags().GetBool("watch"); watch {
				return a.watch(cmd, c, meta.ID)
			}
			return nil
		},
	}
	cmd.Flags().String("options", "", "Report options")
	cmd.Flags().Bool("watch", false, "Start the analysis and wait for the result")
	return cmd
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authedClient()
			if err != nil {
				return err
			}
			items, err := c.ListReports(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWEBSITE\tSTATUS\tUPDATED")
			for _, r := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Website, r.Status, r.UpdatedAt)
			}
			return tw.Flush()
		},
	}
}

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Re-analyze a report and poll until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authedClient()
			if err != nil {
				return err
			}
			return a.watch(cmd, c, args[0])
		},
	}
}

func (a *app) watch(cmd *cobra.Command, c *client.Client, id string) error {
	out := cmd.OutOrStdout()
	logger := a.logger()
	ctx := logger.WithContext(cmd.Context())

	p := poller.New(c, a.pollerConfig()).WithProgress(func(pr poller.Progress) {
		fmt.Fprintf(out, "  [%d/%d] %s\n", pr.Attempt, pr.MaxAttempts, pr.Status)
	})

	report, err := p.Run(ctx, id)
	if err != nil {
		var failed *poller.ReportFailedError
		if errors.As(err, &failed) {
			return fmt.Errorf("report failed: %s", failed.Message)
		}
		return err
	}

	fmt.Fprintf(out, "Report %s completed for %s\n", report.ID, report.Website)
	printSummary(cmd, report)
	return nil
}

func printSummary(cmd *cobra.Command, report *dto.ReportDetail) {
	keys := make([]string, 0, len(report.ReportData))
	for k := range report.ReportData {
		if k == override.ManualChecksKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(cmd.OutOrStdout(), "Sections: %s\n", strings.Join(keys, ", "))

	checks := override.FromReportData(report.ReportData)
	if len(checks) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Manual checks: %d\n", len(checks))
	}
}

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authedClient()
			if err != nil {
				return err
			}
			if err := c.DeleteReport(cmd.Context(), args[0]); err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("report %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %s\n", args[0])
			return nil
		},
	}
}

func (a *app) checksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checks <id>",
		Short: "Show or change manual check overrides",
		Long: `Each --toggle cycles a check: unset -> pass -> fail -> unset.
--set path=value edits a field of the report data (numbers and booleans are parsed).
Changes are saved in one update; without flags the current overrides are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authedClient()
			if err != nil {
				return err
			}
			toggles, _ := cmd.Flags().GetStringSlice("toggle")
			sets, _ := cmd.Flags().GetStringSlice("set")

			report, err := c.GetReport(cmd.Context(), args[0], poller.ModeFull)
			if err != nil {
				return err
			}
			editor, err := override.NewEditor(report, c)
			if err != nil {
				return err
			}

			for _, key := range toggles {
				editor.Toggle(key)
			}
			for _, kv := range sets {
				path, raw, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, expected path=value", kv)
				}
				if err := editor.SetField(path, parseValue(raw)); err != nil {
					return err
				}
			}

			if editor.HasUnsavedChanges() {
				if err := editor.Save(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Saved")
			}

			checks := editor.Checks()
			if len(checks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No manual overrides")
				return nil
			}
			for _, k := range checks.Keys() {
				state := "fail"
				if checks[k] {
					state = "pass"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, state)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("toggle", nil, "Check key to toggle (repeatable)")
	cmd.Flags().StringSlice("set", nil, "Field to set as path=value (repeatable)")
	return cmd
}

func (a *app) jobsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <id>",
		Short: "Show analysis attempts for a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authedClient()
			if err != nil {
				return err
			}
			jobs, err := c.ReportJobs(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ATTEMPT\tSTATUS\tELAPSED\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%d\t%s\t%dms\t%s\n", j.Attempt, j.Status, j.ElapsedMs, j.ErrorMessage)
			}
			return tw.Flush()
		},
	}
}

// parseValue true/false 按布尔，能解析为数字的按数字，否则按字符串
func parseValue(raw string) interface{} {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
