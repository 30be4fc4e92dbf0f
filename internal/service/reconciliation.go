package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meterline/meterline/internal/domain/events"
	"github.com/meterline/meterline/internal/domain/payment"
	"github.com/meterline/meterline/internal/domain/reconciliation"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/notifier"
	"github.com/meterline/meterline/internal/types"
)

const (
	reconcileEventsWindowDays   = 7
	reconcilePaymentsWindowDays = 3

	// Webhooks for fresh payments are often still in flight; payments newer
	// than this are not compared.
	reconcilePaymentsLag = time.Hour

	gatewayFetchPageSize = 100
	gatewayFetchRetries  = 4
	gatewayFetchMaxPages = 50
)

// ReconciliationService cross-checks the system's three sources of truth:
// hot store against durable store, local payments against the gateway, and
// stored aggregates against a recompute from durable events.
type ReconciliationService interface {
	// Run executes all applicable scopes; each writes its own run row.
	Run(ctx context.Context) (*ReconciliationReport, error)

	ReconcileEvents(ctx context.Context) (*reconciliation.Run, error)
	ReconcilePayments(ctx context.Context) (*reconciliation.Run, error)
	ReconcileAggregates(ctx context.Context) (*reconciliation.Run, error)
}

// ReconciliationReport collects the run rows of one pass.
type ReconciliationReport struct {
	Events     *reconciliation.Run `json:"events,omitempty"`
	Payments   *reconciliation.Run `json:"payments,omitempty"`
	Aggregates *reconciliation.Run `json:"aggregates,omitempty"`
}

type reconciliationService struct {
	ServiceParams
}

func NewReconciliationService(params ServiceParams) ReconciliationService {
	return &reconciliationService{ServiceParams: params}
}

func (s *reconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	report := &ReconciliationReport{}
	var lastErr error

	run, err := s.ReconcileEvents(ctx)
	if err != nil {
		s.Logger.Errorw("events reconciliation failed", "error", err)
		lastErr = err
	}
	report.Events = run

	if s.Gateway != nil {
		run, err = s.ReconcilePayments(ctx)
		if err != nil {
			s.Logger.Errorw("payments reconciliation failed", "error", err)
			lastErr = err
		}
		report.Payments = run
	}

	run, err = s.ReconcileAggregates(ctx)
	if err != nil {
		s.Logger.Errorw("aggregates reconciliation failed", "error", err)
		lastErr = err
	}
	report.Aggregates = run

	return report, lastErr
}

// ReconcileEvents compares per (organisation, project, metric, day) event
// counts between the hot and durable stores over the recent full days.
func (s *reconciliationService) ReconcileEvents(ctx context.Context) (*reconciliation.Run, error) {
	now := time.Now().UTC()

	// Today is still filling and migration lags by one interval, so only
	// completed days are compared. The window must also stay inside the hot
	// retention: cleanup deletes migrated rows after it, which would make
	// the hot side undercount.
	windowDays := reconcileEventsWindowDays
	if r := s.Config.Cleanup.RetentionDays; r > 1 && r-1 < windowDays {
		windowDays = r - 1
	}
	windowEnd := now.Truncate(24 * time.Hour)
	windowStart := windowEnd.AddDate(0, 0, -windowDays)

	run := reconciliation.NewRun(types.ReconciliationScopeEvents, windowStart, windowEnd)

	params := &events.CountByDayParams{StartTime: windowStart, EndTime: windowEnd}
	hot, err := s.EventRepo.CountByDay(ctx, params)
	if err != nil {
		return s.failRun(ctx, run, err)
	}
	durable, err := s.DurableEventRepo.CountByDay(ctx, params)
	if err != nil {
		return s.failRun(ctx, run, err)
	}

	hotGrid := make(map[string]uint64, len(hot))
	for _, c := range hot {
		hotGrid[dayCountKey(c)] = c.Count
		run.LeftCount += int64(c.Count)
	}
	durableGrid := make(map[string]uint64, len(durable))
	for _, c := range durable {
		durableGrid[dayCountKey(c)] = c.Count
		run.RightCount += int64(c.Count)
	}

	for key, hotCount := range hotGrid {
		if durableCount := durableGrid[key]; durableCount != hotCount {
			run.AddDiscrepancy(reconciliation.Discrepancy{
				Kind:  "event_count",
				Key:   key,
				Left:  fmt.Sprintf("%d", hotCount),
				Right: fmt.Sprintf("%d", durableCount),
			})
		}
	}
	for key, durableCount := range durableGrid {
		if _, ok := hotGrid[key]; !ok {
			run.AddDiscrepancy(reconciliation.Discrepancy{
				Kind:  "event_count",
				Key:   key,
				Left:  "0",
				Right: fmt.Sprintf("%d", durableCount),
			})
		}
	}

	return s.finishRun(ctx, run)
}

// ReconcilePayments compares the rolling window of local payments against
// the gateway's records. Gateway-side money movement with no local trace is
// flagged unreconciled for operator action.
func (s *reconciliationService) ReconcilePayments(ctx context.Context) (*reconciliation.Run, error) {
	if s.Gateway == nil {
		return nil, ierr.NewError("no payment gateway configured").
			Mark(ierr.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -reconcilePaymentsWindowDays)
	to := now.Add(-reconcilePaymentsLag)

	run := reconciliation.NewRun(types.ReconciliationScopePayments, from, to)

	local, err := s.PaymentRepo.ListByWindow(ctx, from, to)
	if err != nil {
		return s.failRun(ctx, run, err)
	}
	records, err := s.fetchGatewayPayments(ctx, from, to)
	if err != nil {
		return s.failRun(ctx, run, err)
	}
	run.LeftCount = int64(len(local))
	run.RightCount = int64(len(records))

	byPaymentID := make(map[string]*payment.Payment, len(local))
	byOrderID := make(map[string]*payment.Payment, len(local))
	for _, p := range local {
		if p.GatewayPaymentID != nil {
			byPaymentID[*p.GatewayPaymentID] = p
		}
		if p.GatewayOrderID != "" {
			byOrderID[p.GatewayOrderID] = p
		}
	}

	unreconciled := false
	reconciled := make(map[string]bool)
	for _, rec := range records {
		p := byPaymentID[rec.ID]
		if p == nil {
			p = byOrderID[rec.OrderID]
		}
		if p == nil {
			// Abandoned or superseded attempts where no money moved are
			// noise; anything that charged the customer is not.
			if !gatewayMoneyMoved(rec.Status) {
				continue
			}
			run.AddDiscrepancy(reconciliation.Discrepancy{
				Kind:  "unreconciled",
				Key:   rec.ID,
				Left:  "",
				Right: rec.Status,
			})
			unreconciled = true
			continue
		}

		if !gatewayStatusConsistent(p.Status, rec.Status) {
			run.AddDiscrepancy(reconciliation.Discrepancy{
				Kind:  "payment_status",
				Key:   p.ID,
				Left:  string(p.Status),
				Right: rec.Status,
			})
			continue
		}
		reconciled[p.ID] = true
	}

	if unreconciled {
		run.Status = types.ReconciliationStatusUnreconciled
	}

	if len(reconciled) > 0 {
		ids := make([]string, 0, len(reconciled))
		for id := range reconciled {
			ids = append(ids, id)
		}
		if err := s.PaymentRepo.MarkReconciled(ctx, ids, now); err != nil {
			return s.failRun(ctx, run, err)
		}
	}

	return s.finishRun(ctx, run)
}

// ReconcileAggregates recomputes the current and previous month's rollups
// from durable events and overwrites drifted rows with the recomputed truth.
func (s *reconciliationService) ReconcileAggregates(ctx context.Context) (*reconciliation.Run, error) {
	now := time.Now().UTC()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	previous := firstOfMonth.AddDate(0, -1, 0)

	windowStart, _ := types.BillingPeriod(int(previous.Month()), previous.Year())
	_, windowEnd := types.BillingPeriod(int(now.Month()), now.Year())
	run := reconciliation.NewRun(types.ReconciliationScopeAggregates, windowStart, windowEnd)

	for _, period := range []time.Time{previous, firstOfMonth} {
		month, year := int(period.Month()), period.Year()

		aggs, err := s.AggregateRepo.ListByPeriod(ctx, month, year)
		if err != nil {
			return s.failRun(ctx, run, err)
		}

		for _, agg := range aggs {
			run.LeftCount++
			key := events.AggregateKey{
				OrganisationID: agg.OrganisationID,
				ProjectID:      agg.ProjectID,
				MetricName:     agg.MetricName,
				Unit:           agg.Unit,
			}
			value, count, err := s.DurableEventRepo.AggregateTotals(ctx, key, month, year)
			if err != nil {
				return s.failRun(ctx, run, err)
			}
			run.RightCount++

			if agg.TotalValue.Equal(value) && agg.EventCount == count {
				continue
			}

			stored := fmt.Sprintf("%s/%d", agg.TotalValue, agg.EventCount)
			run.AddDiscrepancy(reconciliation.Discrepancy{
				Kind: "aggregate",
				Key: fmt.Sprintf("%s/%s/%s/%s/%04d-%02d",
					agg.OrganisationID, agg.ProjectID, agg.MetricName, agg.Unit, year, month),
				Left:     stored,
				Right:    fmt.Sprintf("%s/%d", value, count),
				Resolved: true,
			})

			agg.TotalValue = value
			agg.EventCount = count
			if err := s.AggregateRepo.Replace(ctx, agg); err != nil {
				return s.failRun(ctx, run, err)
			}
			s.Logger.Warnw("aggregate drift corrected",
				"organisation_id", agg.OrganisationID,
				"metric_name", agg.MetricName,
				"unit", agg.Unit,
				"month", month,
				"year", year,
				"stored", stored,
				"recomputed", value,
			)
		}
	}

	return s.finishRun(ctx, run)
}

// fetchGatewayPayments pages through the gateway's payment list for the
// window, retrying transient failures with exponential backoff. Pages
// advance on created_at; overlapping rows are deduplicated by id.
func (s *reconciliationService) fetchGatewayPayments(ctx context.Context, from, to time.Time) ([]*payment.GatewayPaymentRecord, error) {
	var all []*payment.GatewayPaymentRecord
	seen := make(map[string]bool)
	cursor := from

	for page := 0; page < gatewayFetchMaxPages; page++ {
		var batch []*payment.GatewayPaymentRecord
		op := func() error {
			var err error
			batch, err = s.Gateway.FetchPayments(ctx, cursor, to, gatewayFetchPageSize)
			if err != nil && !ierr.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), gatewayFetchRetries), ctx)
		if err := backoff.Retry(op, bo); err != nil {
			return nil, err
		}

		fresh := 0
		for _, rec := range batch {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			all = append(all, rec)
			fresh++
			if rec.CreatedAt.After(cursor) {
				cursor = rec.CreatedAt
			}
		}
		if len(batch) < gatewayFetchPageSize || fresh == 0 {
			break
		}
	}
	return all, nil
}

// finishRun persists the run row, bumps metrics and raises an operational
// alert when the run found anything.
func (s *reconciliationService) finishRun(ctx context.Context, run *reconciliation.Run) (*reconciliation.Run, error) {
	if err := s.ReconciliationRepo.Create(ctx, run); err != nil {
		return nil, err
	}
	if run.DiscrepancyCount > 0 {
		s.Metrics.Discrepancies.WithLabelValues(string(run.Scope)).Add(float64(run.DiscrepancyCount))
		s.alertDiscrepancies(ctx, run)
	}

	s.Logger.Infow("reconciliation run finished",
		"run_id", run.ID,
		"scope", run.Scope,
		"status", run.Status,
		"left_count", run.LeftCount,
		"right_count", run.RightCount,
		"discrepancies", run.DiscrepancyCount,
	)
	return run, nil
}

// failRun records the aborted run so operators can see the gap in coverage.
func (s *reconciliationService) failRun(ctx context.Context, run *reconciliation.Run, err error) (*reconciliation.Run, error) {
	run.Status = types.ReconciliationStatusFailed
	if cerr := s.ReconciliationRepo.Create(ctx, run); cerr != nil {
		s.Logger.Errorw("failed to record aborted reconciliation run",
			"scope", run.Scope,
			"error", cerr,
		)
	}
	return nil, err
}

func (s *reconciliationService) alertDiscrepancies(ctx context.Context, run *reconciliation.Run) {
	n := &notifier.Notification{
		RuleName: fmt.Sprintf("reconciliation %s", run.Scope),
		Title:    fmt.Sprintf("Reconciliation found %d discrepancies in %s", run.DiscrepancyCount, run.Scope),
		Message: fmt.Sprintf("%d of %d compared rows diverged between %s and %s",
			run.DiscrepancyCount, run.LeftCount,
			run.WindowStart.Format(time.RFC3339), run.WindowEnd.Format(time.RFC3339)),
		TriggeredAt: time.Now().UTC(),
		Details: map[string]interface{}{
			"run_id":        run.ID,
			"scope":         string(run.Scope),
			"status":        string(run.Status),
			"discrepancies": run.DiscrepancyCount,
		},
	}
	if err := s.Notifier.Dispatch(ctx, systemAlertChannels, n); err != nil {
		s.Logger.Errorw("reconciliation alert dispatch failed",
			"run_id", run.ID,
			"error", err,
		)
	}
}

func dayCountKey(c *events.DayCount) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.OrganisationID, c.ProjectID, c.MetricName, c.Day.Format("2006-01-02"))
}

// gatewayMoneyMoved reports whether a gateway payment status implies the
// customer was charged.
func gatewayMoneyMoved(gatewayStatus string) bool {
	switch gatewayStatus {
	case "authorized", "captured", "refunded":
		return true
	default:
		return false
	}
}

// gatewayStatusConsistent reports whether the local state could legitimately
// coexist with the gateway's. Pending is tolerated against terminal gateway
// states the janitor or a late webhook will resolve; anything else diverged.
func gatewayStatusConsistent(local types.PaymentStatus, gatewayStatus string) bool {
	switch gatewayStatus {
	case "created":
		return local == types.PaymentStatusPending || local == types.PaymentStatusFailed
	case "authorized":
		return local == types.PaymentStatusAuthorized
	case "captured":
		return local == types.PaymentStatusCaptured ||
			local == types.PaymentStatusPartiallyRefunded ||
			local == types.PaymentStatusRefunded
	case "refunded":
		return local == types.PaymentStatusRefunded
	case "failed":
		return local == types.PaymentStatusFailed || local == types.PaymentStatusPending
	default:
		return false
	}
}
