package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/services"
)

// ErrAuditViolations makes the audit command exit non-zero after printing
// its reports.
var ErrAuditViolations = errors.New("audit found violations")

// auditAll selects every audit kind.
const auditAll = "all"

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		kind     string
		payload  string
		key      string
		priority int
		delay    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add a job to the queue",
		Example: `  catalogd enqueue --kind offers.head_refresh.one --payload '{"offerId":"o1"}'
  catalogd enqueue --kind catalog.audit --payload '{"kind":"quality"}' --key nightly-quality`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := jobs.DecodePayload(jobs.Kind(kind), []byte(payload))
			if err != nil {
				return err
			}
			req := services.EnqueueRequest{Kind: p.Kind(), Payload: p, IdempotencyKey: key}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}
			if delay > 0 {
				req.RunAfter = time.Now().UTC().Add(delay)
			}

			a, err := openApp(cmd.Context(), rootOpts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.queue.Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts.Format, res)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", fmt.Sprintf("job kind, e.g. %s or %s", jobs.KindIngestOffer, jobs.KindHeadRefreshOne))
	cmd.Flags().StringVar(&payload, "payload", "{}", "job payload as JSON")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key; an active job with the same key is returned instead")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority, lower runs first (default from QUEUE_DEFAULT_PRIORITY)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "hold the job back for this long")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Classify and recover stale, stuck and failed jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.queue.Sweep(cmd.Context(), services.SweepOptions{DryRun: dryRun})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts.Format, rep)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report candidates")
	return cmd
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run catalog audits and store their reports",
		Long: `Run one audit (provenance, quality, regression) or all of them.

Reports are stored like the scheduled runs. The command exits non-zero when
any report has violations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := auditKinds(kind)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), rootOpts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			results := make([]*services.AuditResult, 0, len(kinds))
			violations := false
			for _, k := range kinds {
				res, err := a.audits.Run(cmd.Context(), k)
				if err != nil {
					return fmt.Errorf("audit %s: %w", k, err)
				}
				violations = violations || res.Report.HasViolations()
				results = append(results, res)
			}
			if err := printResult(cmd.OutOrStdout(), rootOpts.Format, results); err != nil {
				return err
			}
			if violations {
				return ErrAuditViolations
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", auditAll, "audit to run: all|provenance|quality|regression")
	return cmd
}

func auditKinds(kind string) ([]jobs.AuditKind, error) {
	if kind == auditAll {
		return []jobs.AuditKind{jobs.AuditProvenance, jobs.AuditQuality, jobs.AuditRegression}, nil
	}
	k := jobs.AuditKind(kind)
	if !k.Known() {
		return nil, fmt.Errorf("%w: %q", services.ErrUnknownAudit, kind)
	}
	return []jobs.AuditKind{k}, nil
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		products, plants, offers []string
		apply                    bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Plan or apply a legacy catalog prune",
		Long: `Expand the given legacy products, plants and offers into the full set of
records a prune deletes. Nothing changes unless --apply is set.`,
		Example: `  catalogd prune --product p-legacy-1 --offer o-legacy-7
  catalogd prune --plant plant-legacy-1 --apply`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := jobs.LegacyPrune{ProductIDs: products, PlantIDs: plants, OfferIDs: offers}
			if err := p.Validate(); err != nil {
				return err
			}
			targets := catalog.PruneTargets{ProductIDs: products, PlantIDs: plants, OfferIDs: offers}

			a, err := openApp(cmd.Context(), rootOpts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if !apply {
				plan, err := a.catalog.PlanLegacyPrune(cmd.Context(), targets)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), rootOpts.Format, plan)
			}
			res, err := a.catalog.ApplyLegacyPrune(cmd.Context(), targets)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), rootOpts.Format, res)
		},
	}

	cmd.Flags().StringSliceVar(&products, "product", nil, "legacy product id (repeatable)")
	cmd.Flags().StringSliceVar(&plants, "plant", nil, "legacy plant id (repeatable)")
	cmd.Flags().StringSliceVar(&offers, "offer", nil, "legacy offer id (repeatable)")
	cmd.Flags().BoolVar(&apply, "apply", false, "delete the planned records")
	return cmd
}
