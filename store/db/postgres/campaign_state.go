package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/campaignpilot/store"
)

func (d *DB) UpsertExperiment(ctx context.Context, upsert *store.Experiment) (*store.Experiment, error) {
	stmt := `INSERT INTO experiment (id, campaign_id, status, payload, created_ts, updated_ts)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			campaign_id = excluded.campaign_id,
			status = excluded.status,
			payload = excluded.payload,
			updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.ID, upsert.CampaignID, upsert.Status, string(upsert.Payload),
		toMillis(upsert.CreatedTs), toMillis(upsert.UpdatedTs),
	); err != nil {
		return nil, fmt.Errorf("failed to upsert experiment: %w", err)
	}
	return upsert, nil
}

func (d *DB) ListExperiments(ctx context.Context, find *store.FindExperiment) ([]*store.Experiment, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find != nil {
		if v := find.ID; v != nil {
			where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
		}
		if v := find.CampaignID; v != nil {
			where, args = append(where, "campaign_id = "+placeholder(len(args)+1)), append(args, *v)
		}
		if v := find.Status; v != nil {
			where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *v)
		}
	}

	rows, err := d.db.QueryContext(ctx, `SELECT id, campaign_id, status, payload::text, created_ts, updated_ts
		FROM experiment
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_ts ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiments: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Experiment, 0)
	for rows.Next() {
		var experiment store.Experiment
		var payload string
		var createdTs, updatedTs int64
		if err := rows.Scan(&experiment.ID, &experiment.CampaignID, &experiment.Status, &payload, &createdTs, &updatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiment.Payload = []byte(payload)
		experiment.CreatedTs = fromMillis(createdTs)
		experiment.UpdatedTs = fromMillis(updatedTs)
		list = append(list, &experiment)
	}
	return list, rows.Err()
}

func (d *DB) UpsertCampaignStrategy(ctx context.Context, upsert *store.CampaignStrategy) (*store.CampaignStrategy, error) {
	stmt := `INSERT INTO campaign_strategy (id, name, status, payload, created_ts, updated_ts)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			payload = excluded.payload,
			updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.ID, upsert.Name, upsert.Status, string(upsert.Payload),
		toMillis(upsert.CreatedTs), toMillis(upsert.UpdatedTs),
	); err != nil {
		return nil, fmt.Errorf("failed to upsert campaign strategy: %w", err)
	}
	return upsert, nil
}

func (d *DB) ListCampaignStrategies(ctx context.Context, find *store.FindCampaignStrategy) ([]*store.CampaignStrategy, error) {
	where, args := []string{"1 = 1"}, []any{}
	limit := 0
	if find != nil {
		if v := find.ID; v != nil {
			where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
		}
		if v := find.Status; v != nil {
			where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *v)
		}
		limit = find.Limit
	}

	query := `SELECT id, name, status, payload::text, created_ts, updated_ts
		FROM campaign_strategy
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign strategies: %w", err)
	}
	defer rows.Close()

	list := make([]*store.CampaignStrategy, 0)
	for rows.Next() {
		var strategy store.CampaignStrategy
		var payload string
		var createdTs, updatedTs int64
		if err := rows.Scan(&strategy.ID, &strategy.Name, &strategy.Status, &payload, &createdTs, &updatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan campaign strategy: %w", err)
		}
		strategy.Payload = []byte(payload)
		strategy.CreatedTs = fromMillis(createdTs)
		strategy.UpdatedTs = fromMillis(updatedTs)
		list = append(list, &strategy)
	}
	return list, rows.Err()
}

func (d *DB) UpsertWinningConfig(ctx context.Context, upsert *store.WinningConfig) (*store.WinningConfig, error) {
	config, insights := string(upsert.Config), string(upsert.Insights)
	if config == "" {
		config = "{}"
	}
	if insights == "" {
		insights = "[]"
	}

	stmt := `INSERT INTO winning_config (
			experiment_id, campaign_id, agent_id, variant_id, primary_metric,
			lift, confidence, config, insights, created_ts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10)
		ON CONFLICT (experiment_id) DO UPDATE SET
			campaign_id = excluded.campaign_id,
			agent_id = excluded.agent_id,
			variant_id = excluded.variant_id,
			primary_metric = excluded.primary_metric,
			lift = excluded.lift,
			confidence = excluded.confidence,
			config = excluded.config,
			insights = excluded.insights
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.ExperimentID, upsert.CampaignID, upsert.AgentID, upsert.VariantID, upsert.PrimaryMetric,
		upsert.Lift, upsert.Confidence, config, insights, toMillis(upsert.CreatedTs),
	).Scan(&upsert.ID); err != nil {
		return nil, fmt.Errorf("failed to upsert winning config: %w", err)
	}
	return upsert, nil
}

func (d *DB) ListWinningConfigs(ctx context.Context, find *store.FindWinningConfig) ([]*store.WinningConfig, error) {
	where, args := []string{"1 = 1"}, []any{}
	limit := 0
	if find != nil {
		if v := find.AgentID; v != nil {
			where, args = append(where, "agent_id = "+placeholder(len(args)+1)), append(args, *v)
		}
		if v := find.CampaignID; v != nil {
			where, args = append(where, "campaign_id = "+placeholder(len(args)+1)), append(args, *v)
		}
		limit = find.Limit
	}

	query := `SELECT id, experiment_id, campaign_id, agent_id, variant_id, primary_metric,
			lift, confidence, config::text, insights::text, created_ts
		FROM winning_config
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query winning configs: %w", err)
	}
	defer rows.Close()

	list := make([]*store.WinningConfig, 0)
	for rows.Next() {
		var winner store.WinningConfig
		var config, insights string
		var createdTs int64
		if err := rows.Scan(
			&winner.ID, &winner.ExperimentID, &winner.CampaignID, &winner.AgentID, &winner.VariantID,
			&winner.PrimaryMetric, &winner.Lift, &winner.Confidence, &config, &insights, &createdTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan winning config: %w", err)
		}
		winner.Config = []byte(config)
		winner.Insights = []byte(insights)
		winner.CreatedTs = fromMillis(createdTs)
		list = append(list, &winner)
	}
	return list, rows.Err()
}
