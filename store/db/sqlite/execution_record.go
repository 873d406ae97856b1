package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/store"
)

const executionRecordColumns = `id, agent_id, session_id, user_id, input, output, metadata,
	created_ts, tokens_used, cost, execution_time_ms, success, error_message, quality_score`

func (d *DB) CreateExecutionRecord(ctx context.Context, create *store.ExecutionRecord) (*store.ExecutionRecord, error) {
	fields := []string{
		"agent_id", "session_id", "user_id", "input", "output", "metadata",
		"created_ts", "tokens_used", "cost", "execution_time_ms", "success", "error_message", "quality_score",
	}
	args := []any{
		create.AgentID, create.SessionID, create.UserID,
		store.EncodeBlob(create.Input), store.EncodeBlob(create.Output), store.EncodeBlob(create.Metadata),
		toMillis(create.CreatedTs), create.TokensUsed, create.Cost, create.ExecutionTimeMs,
		create.Success, create.ErrorMessage, create.QualityScore,
	}

	stmt := `INSERT INTO execution_record (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}
	create.CreatedTs = fromMillis(toMillis(create.CreatedTs))
	return create, nil
}

func (d *DB) ListExecutionRecords(ctx context.Context, find *store.FindExecutionRecord) ([]*store.ExecutionRecord, error) {
	if find == nil {
		find = &store.FindExecutionRecord{}
	}
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.AgentID; v != nil {
		where, args = append(where, "agent_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SessionID; v != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.StartTime; v != nil {
		where, args = append(where, "created_ts >= "+placeholder(len(args)+1)), append(args, toMillis(*v))
	}
	if v := find.EndTime; v != nil {
		where, args = append(where, "created_ts < "+placeholder(len(args)+1)), append(args, toMillis(*v))
	}
	if find.SuccessOnly {
		where = append(where, "success = 1")
	}

	direction := "ASC"
	if find.SortDesc {
		direction = "DESC"
	}
	query := `SELECT ` + executionRecordColumns + `
		FROM execution_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + find.SortBy.SortColumn() + ` ` + direction + `, id ` + direction

	if find.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, find.Limit)
	} else if find.Offset > 0 {
		query += " LIMIT -1"
	}
	if find.Offset > 0 {
		query = fmt.Sprintf("%s OFFSET %d", query, find.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution records: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ExecutionRecord, 0)
	for rows.Next() {
		record, err := scanExecutionRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, record)
	}
	return list, rows.Err()
}

func scanExecutionRecord(rows *sql.Rows) (*store.ExecutionRecord, error) {
	var record store.ExecutionRecord
	var userID, errorMessage sql.NullString
	var qualityScore sql.NullFloat64
	var input, output, metadata string
	var createdTs int64

	if err := rows.Scan(
		&record.ID,
		&record.AgentID,
		&record.SessionID,
		&userID,
		&input,
		&output,
		&metadata,
		&createdTs,
		&record.TokensUsed,
		&record.Cost,
		&record.ExecutionTimeMs,
		&record.Success,
		&errorMessage,
		&qualityScore,
	); err != nil {
		return nil, fmt.Errorf("failed to scan execution record: %w", err)
	}

	record.Input = store.DecodeBlob(input)
	record.Output = store.DecodeBlob(output)
	record.Metadata = store.DecodeBlob(metadata)
	record.CreatedTs = fromMillis(createdTs)
	if userID.Valid {
		record.UserID = &userID.String
	}
	if errorMessage.Valid {
		record.ErrorMessage = &errorMessage.String
	}
	if qualityScore.Valid {
		record.QualityScore = &qualityScore.Float64
	}
	return &record, nil
}

func (d *DB) UpdateExecutionRecord(ctx context.Context, update *store.UpdateExecutionRecord) error {
	set, args := []string{}, []any{}
	if v := update.QualityScore; v != nil {
		set, args = append(set, "quality_score = "+placeholder(len(args)+1)), append(args, *v)
	}
	if update.Metadata != nil {
		set, args = append(set, "metadata = "+placeholder(len(args)+1)), append(args, store.EncodeBlob(update.Metadata))
	}
	if len(set) == 0 {
		return engineerrors.InvalidArgument("update", "nothing to patch")
	}
	args = append(args, update.ID)

	stmt := `UPDATE execution_record SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update execution record: %w", err)
	}
	if affected == 0 {
		return engineerrors.NotFound("execution record", fmt.Sprint(update.ID))
	}
	return nil
}

func (d *DB) DeleteExecutionRecords(ctx context.Context, delete *store.DeleteExecutionRecords) (int64, error) {
	if delete == nil || delete.BeforeTime == nil {
		return 0, fmt.Errorf("before_time is required for deletion")
	}

	result, err := d.db.ExecContext(ctx, `DELETE FROM execution_record WHERE created_ts < ?`, toMillis(*delete.BeforeTime))
	if err != nil {
		return 0, fmt.Errorf("failed to delete execution records: %w", err)
	}
	return result.RowsAffected()
}
