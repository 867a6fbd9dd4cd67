package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/movement-gateway/internal/models"
	"github.com/noah-isme/movement-gateway/pkg/config"
	"github.com/noah-isme/movement-gateway/pkg/upstream"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "movectl",
		Short:         "Inspect employee movement submissions on the HR backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "HR backend base URL (defaults to UPSTREAM_BASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("MOVECTL_TOKEN"), "bearer token (defaults to MOVECTL_TOKEN)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall request timeout")

	cmd.AddCommand(newSubmissionsCmd(opts))
	cmd.AddCommand(newMonitoringCmd(opts))
	cmd.AddCommand(newPendingMDACmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// client builds an upstream client and a context carrying the caller's token.
func (o *globalOptions) client(parent context.Context) (*upstream.Client, context.Context, context.CancelFunc, error) {
	cfg := config.UpstreamConfig{BaseURL: o.BaseURL, Timeout: o.Timeout}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		loaded, err := config.Load()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load config: %w", err)
		}
		cfg.BaseURL = loaded.Upstream.BaseURL
	}
	if strings.TrimSpace(o.Token) == "" {
		return nil, nil, nil, fmt.Errorf("--token is required")
	}
	client, err := upstream.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(parent, o.Timeout)
	return client, upstream.WithToken(ctx, o.Token), cancel, nil
}

// queryOptions are the table filters exposed as flags.
type queryOptions struct {
	Form           string
	Page           int
	PerPage        int
	Search         string
	Status         string
	ApprovalStatus []string
}

func (q *queryOptions) bind(cmd *cobra.Command, withForm bool) {
	if withForm {
		cmd.Flags().StringVar(&q.Form, "form", string(models.FormMRF), "form type: mrf, data-change or mda")
	}
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PerPage, "per-page", models.DefaultPerPage, "rows per page")
	cmd.Flags().StringVar(&q.Search, "search", "", "free-text search")
	cmd.Flags().StringVar(&q.Status, "status", "", "record status (active or inactive)")
	cmd.Flags().StringSliceVar(&q.ApprovalStatus, "approval-status", nil, "approval status filter, repeatable")
}

func (q *queryOptions) form() (models.FormCode, error) {
	code, ok := models.ParseFormCode(q.Form)
	if !ok {
		return "", fmt.Errorf("unknown form %q", q.Form)
	}
	return code, nil
}

func (q *queryOptions) listQuery() models.ListQuery {
	lq := models.DefaultListQuery()
	lq.Page = q.Page
	lq.PerPage = q.PerPage
	lq.Search = q.Search
	lq.Status = q.Status
	lq.ApprovalStatus = q.ApprovalStatus
	return lq.Normalize()
}
