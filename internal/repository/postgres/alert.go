package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meterline/meterline/internal/domain/alert"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/postgres"
	"github.com/meterline/meterline/internal/types"
)

type alertRuleRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewAlertRuleRepository(client postgres.IClient, log *logger.Logger) alert.RuleRepository {
	return &alertRuleRepository{client: client, log: log}
}

// alertRuleRow carries the serialized channels column alongside the domain
// struct for sqlx binding
type alertRuleRow struct {
	alert.Rule
	ChannelsJSON []byte `db:"channels"`
}

func newAlertRuleRow(rule *alert.Rule) (*alertRuleRow, error) {
	channels, err := json.Marshal(rule.Channels)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to serialize alert channels").
			Mark(ierr.ErrSystem)
	}
	return &alertRuleRow{Rule: *rule, ChannelsJSON: channels}, nil
}

func (row *alertRuleRow) toDomain() (*alert.Rule, error) {
	rule := row.Rule
	if len(row.ChannelsJSON) > 0 {
		if err := json.Unmarshal(row.ChannelsJSON, &rule.Channels); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to decode alert channels").
				Mark(ierr.ErrSystem)
		}
	}
	return &rule, nil
}

func (r *alertRuleRepository) Create(ctx context.Context, rule *alert.Rule) error {
	span := StartRepositorySpan(ctx, "alert_rule", "create", map[string]interface{}{
		"rule_id":    rule.ID,
		"alert_type": rule.AlertType,
	})
	defer FinishSpan(span)

	if err := rule.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	rule.BaseModel = types.GetDefaultBaseModel(ctx)
	row, err := newAlertRuleRow(rule)
	if err != nil {
		SetSpanError(span, err)
		return err
	}

	client := r.client.Querier(ctx)

	query := `
		INSERT INTO alert_rules (
			id, organisation_id, alert_type, metric_name, unit,
			threshold, operator, comparison_period, spike_percent, reference_period,
			is_active, channels, cooldown_minutes, last_alert_at,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :organisation_id, :alert_type, :metric_name, :unit,
			:threshold, :operator, :comparison_period, :spike_percent, :reference_period,
			:is_active, :channels, :cooldown_minutes, :last_alert_at,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, row); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to create alert rule").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *alertRuleRepository) Get(ctx context.Context, id string) (*alert.Rule, error) {
	span := StartRepositorySpan(ctx, "alert_rule", "get", map[string]interface{}{
		"rule_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM alert_rules WHERE id = $1 AND status != $2`

	var row alertRuleRow
	err := client.GetContext(ctx, &row, query, id, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Alert rule with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get alert rule").
			Mark(ierr.ErrDatabase)
	}

	rule, err := row.toDomain()
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return rule, nil
}

func (r *alertRuleRepository) ListActive(ctx context.Context) ([]*alert.Rule, error) {
	span := StartRepositorySpan(ctx, "alert_rule", "list_active", nil)
	defer FinishSpan(span)

	query := `
		SELECT * FROM alert_rules
		WHERE is_active = true AND status = $1
		ORDER BY organisation_id, created_at
	`

	rules, err := r.getMany(ctx, query, types.StatusPublished)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return rules, nil
}

func (r *alertRuleRepository) ListByOrganisation(ctx context.Context, organisationID string) ([]*alert.Rule, error) {
	span := StartRepositorySpan(ctx, "alert_rule", "list_by_organisation", map[string]interface{}{
		"organisation_id": organisationID,
	})
	defer FinishSpan(span)

	query := `
		SELECT * FROM alert_rules
		WHERE organisation_id = $1 AND status != $2
		ORDER BY created_at
	`

	rules, err := r.getMany(ctx, query, organisationID, types.StatusDeleted)
	if err != nil {
		SetSpanError(span, err)
		return nil, err
	}

	SetSpanSuccess(span)
	return rules, nil
}

func (r *alertRuleRepository) Update(ctx context.Context, rule *alert.Rule) error {
	span := StartRepositorySpan(ctx, "alert_rule", "update", map[string]interface{}{
		"rule_id": rule.ID,
	})
	defer FinishSpan(span)

	if err := rule.Validate(); err != nil {
		SetSpanError(span, err)
		return err
	}

	rule.Touch(ctx)
	row, err := newAlertRuleRow(rule)
	if err != nil {
		SetSpanError(span, err)
		return err
	}

	client := r.client.Querier(ctx)

	query := `
		UPDATE alert_rules SET
			alert_type = :alert_type,
			metric_name = :metric_name,
			unit = :unit,
			threshold = :threshold,
			operator = :operator,
			comparison_period = :comparison_period,
			spike_percent = :spike_percent,
			reference_period = :reference_period,
			is_active = :is_active,
			channels = :channels,
			cooldown_minutes = :cooldown_minutes,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND status != 'deleted'
	`

	result, err := client.NamedExec(query, row)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update alert rule").
			Mark(ierr.ErrDatabase)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to read rows affected").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewErrorf("alert rule %s not found", rule.ID).
			Mark(ierr.ErrNotFound)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *alertRuleRepository) Delete(ctx context.Context, id string) error {
	span := StartRepositorySpan(ctx, "alert_rule", "delete", map[string]interface{}{
		"rule_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		UPDATE alert_rules SET
			status = $1, is_active = false, updated_at = now(), updated_by = $2
		WHERE id = $3 AND status != $1
	`

	result, err := client.ExecContext(ctx, query, types.StatusArchived, types.GetActor(ctx), id)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to archive alert rule").
			Mark(ierr.ErrDatabase)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to read rows affected").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewErrorf("alert rule %s not found", id).
			Mark(ierr.ErrNotFound)
	}

	SetSpanSuccess(span)
	return nil
}

// TouchLastAlert stamps the cooldown anchor after a rule fires
func (r *alertRuleRepository) TouchLastAlert(ctx context.Context, id string, at time.Time) error {
	span := StartRepositorySpan(ctx, "alert_rule", "touch_last_alert", map[string]interface{}{
		"rule_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `UPDATE alert_rules SET last_alert_at = $1, updated_at = now() WHERE id = $2`

	if _, err := client.ExecContext(ctx, query, at.UTC(), id); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to stamp last alert time").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *alertRuleRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]*alert.Rule, error) {
	client := r.client.Querier(ctx)

	var rows []alertRuleRow
	if err := client.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list alert rules").
			Mark(ierr.ErrDatabase)
	}

	rules := make([]*alert.Rule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type alertHistoryRepository struct {
	client postgres.IClient
	log    *logger.Logger
}

func NewAlertHistoryRepository(client postgres.IClient, log *logger.Logger) alert.HistoryRepository {
	return &alertHistoryRepository{client: client, log: log}
}

func (r *alertHistoryRepository) Create(ctx context.Context, history *alert.History) error {
	span := StartRepositorySpan(ctx, "alert_history", "create", map[string]interface{}{
		"history_id": history.ID,
		"rule_id":    history.RuleID,
	})
	defer FinishSpan(span)

	history.BaseModel = types.GetDefaultBaseModel(ctx)
	client := r.client.Querier(ctx)

	query := `
		INSERT INTO alert_history (
			id, rule_id, organisation_id, notification_status,
			actual_value, threshold_value, period_start, period_end, message,
			status, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :rule_id, :organisation_id, :notification_status,
			:actual_value, :threshold_value, :period_start, :period_end, :message,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)
	`

	if _, err := client.NamedExec(query, history); err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to create alert history").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return nil
}

func (r *alertHistoryRepository) Get(ctx context.Context, id string) (*alert.History, error) {
	span := StartRepositorySpan(ctx, "alert_history", "get", map[string]interface{}{
		"history_id": id,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM alert_history WHERE id = $1`

	var history alert.History
	err := client.GetContext(ctx, &history, query, id)
	if err != nil {
		SetSpanError(span, err)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Alert history with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get alert history").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return &history, nil
}

func (r *alertHistoryRepository) List(ctx context.Context, filter *alert.HistoryFilter) ([]*alert.History, error) {
	span := StartRepositorySpan(ctx, "alert_history", "list", nil)
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `SELECT * FROM alert_history WHERE 1=1`
	var args []interface{}

	if filter != nil {
		if filter.OrganisationID != "" {
			args = append(args, filter.OrganisationID)
			query += fmt.Sprintf(` AND organisation_id = $%d`, len(args))
		}
		if filter.RuleID != "" {
			args = append(args, filter.RuleID)
			query += fmt.Sprintf(` AND rule_id = $%d`, len(args))
		}
		if len(filter.Statuses) > 0 {
			placeholders := ""
			for i, s := range filter.Statuses {
				if i > 0 {
					placeholders += ", "
				}
				args = append(args, s)
				placeholders += fmt.Sprintf("$%d", len(args))
			}
			query += ` AND notification_status IN (` + placeholders + `)`
		}
		if filter.From != nil {
			args = append(args, *filter.From)
			query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
		}
		if filter.To != nil {
			args = append(args, *filter.To)
			query += fmt.Sprintf(` AND created_at < $%d`, len(args))
		}
	}

	query += ` ORDER BY created_at DESC`

	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter != nil && filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	var result []*alert.History
	if err := client.SelectContext(ctx, &result, query, args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list alert history").
			Mark(ierr.ErrDatabase)
	}

	SetSpanSuccess(span)
	return result, nil
}

func (r *alertHistoryRepository) UpdateStatus(ctx context.Context, id string, status types.AlertHistoryStatus) error {
	span := StartRepositorySpan(ctx, "alert_history", "update_status", map[string]interface{}{
		"history_id": id,
		"status":     status,
	})
	defer FinishSpan(span)

	client := r.client.Querier(ctx)

	query := `
		UPDATE alert_history
		SET notification_status = $1, updated_at = now(), updated_by = $2
		WHERE id = $3
	`

	result, err := client.ExecContext(ctx, query, status, types.GetActor(ctx), id)
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to update alert history status").
			Mark(ierr.ErrDatabase)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to read rows affected").
			Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewErrorf("alert history %s not found", id).
			Mark(ierr.ErrNotFound)
	}

	SetSpanSuccess(span)
	return nil
}
