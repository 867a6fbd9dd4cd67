package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

type submissionsListOptions struct {
	queryOptions
	Scope string
}

func newSubmissionsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "List and inspect form submissions",
	}
	cmd.AddCommand(newSubmissionsListCmd(g, upstream.ScopeMe))
	cmd.AddCommand(newSubmissionsGetCmd(g, upstream.ScopeMe))
	return cmd
}

func newMonitoringCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitoring",
		Short: "List and inspect submissions awaiting review",
	}
	cmd.AddCommand(newSubmissionsListCmd(g, upstream.ScopeMonitoring))
	cmd.AddCommand(newSubmissionsGetCmd(g, upstream.ScopeMonitoring))
	return cmd
}

func newSubmissionsListCmd(g *globalOptions, scope string) *cobra.Command {
	opts := &submissionsListOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of submissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			form, err := opts.form()
			if err != nil {
				return err
			}
			client, ctx, cancel, err := g.client(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()

			q := opts.listQuery()
			var page *models.Page[models.FormSubmission]
			switch opts.Scope {
			case upstream.ScopeMe:
				page, err = client.ListMySubmissions(ctx, form, q)
			case upstream.ScopeMonitoring:
				page, err = client.ListMonitoring(ctx, form, q)
			default:
				return fmt.Errorf("unknown scope %q", opts.Scope)
			}
			if err != nil {
				return err
			}
			return writeSubmissions(cmd.OutOrStdout(), q, page)
		},
	}
	opts.bind(cmd, true)
	cmd.Flags().StringVar(&opts.Scope, "scope", scope, "me or monitoring")
	return cmd
}

func newSubmissionsGetCmd(g *globalOptions, scope string) *cobra.Command {
	opts := &submissionsListOptions{}
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one submission with its activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := opts.form()
			if err != nil {
				return err
			}
			client, ctx, cancel, err := g.client(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()

			var sub *models.FormSubmission
			switch opts.Scope {
			case upstream.ScopeMe:
				sub, err = client.GetMySubmission(ctx, form, args[0])
			case upstream.ScopeMonitoring:
				sub, err = client.GetMonitoring(ctx, form, args[0])
			default:
				return fmt.Errorf("unknown scope %q", opts.Scope)
			}
			if err != nil {
				return err
			}
			return writeSubmission(cmd.OutOrStdout(), sub)
		},
	}
	cmd.Flags().StringVar(&opts.Form, "form", string(models.FormMRF), "form type: mrf, data-change or mda")
	cmd.Flags().StringVar(&opts.Scope, "scope", scope, "me or monitoring")
	return cmd
}

func writeSubmissions(out io.Writer, q models.ListQuery, page *models.Page[models.FormSubmission]) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREFERENCE\tEMPLOYEE\tCODE\tSTATUS\tCREATED")
	for _, s := range page.Data {
		name, code := s.Employee()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Reference(), dash(name), dash(code), s.EffectiveStatus(), stamp(s.CreatedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	p := models.NewPagination(q, page.Total)
	_, err := fmt.Fprintf(out, "page %d of %d, %d total\n", p.Page, p.TotalPages, p.TotalCount)
	return err
}

func writeSubmission(out io.Writer, s *models.FormSubmission) error {
	name, code := s.Employee()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Reference:\t%s\n", s.Reference())
	fmt.Fprintf(tw, "Employee:\t%s (%s)\n", dash(name), dash(code))
	fmt.Fprintf(tw, "Status:\t%s\n", s.EffectiveStatus())
	fmt.Fprintf(tw, "Created:\t%s\n", stamp(s.CreatedAt))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(s.ActivityLog) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTATUS\tBY\tDETAILS")
	for _, e := range s.ActivityLog {
		by := ""
		if e.Actor != nil {
			by = e.Actor.FullName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", stamp(e.Timestamp), e.Status, dash(by), e.Details)
	}
	return tw.Flush()
}

func newPendingMDACmd(g *globalOptions) *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "pending-mda",
		Short: "List approved movements still waiting for an MDA",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, ctx, cancel, err := g.client(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()

			q := opts.listQuery()
			page, err := client.ListPendingMDA(ctx, q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SUBMISSION\tREFERENCE\tEMPLOYEE\tMOVEMENT\tFROM\tTO")
			for _, m := range page.Data {
				name := ""
				if m.EmployeeName != nil {
					name = *m.EmployeeName
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m.SubmissionID, m.ReferenceNumber, dash(name), m.MovementType, dash(m.FromPosition), dash(m.ToPosition))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			p := models.NewPagination(q, page.Total)
			_, err = fmt.Fprintf(out, "page %d of %d, %d total\n", p.Page, p.TotalPages, p.TotalCount)
			return err
		},
	}
	opts.bind(cmd, false)
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("Jan 2, 2006 3:04 PM")
}
