package test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/store"
)

var drivers = []string{"sqlite", "postgres"}

func newRecord(agentID string, ts time.Time, cost float64, execMs int64, success bool) *store.ExecutionRecord {
	return &store.ExecutionRecord{
		AgentID:         agentID,
		SessionID:       "session-1",
		Input:           json.RawMessage(`{"prompt":"hello"}`),
		CreatedTs:       ts,
		TokensUsed:      100,
		Cost:            cost,
		ExecutionTimeMs: execMs,
		Success:         success,
	}
}

func TestExecutionRecordCreateAndList(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTestingStoreForDriver(ctx, t, driver)
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			userID := "user-7"
			msg := "rate limited"
			first := newRecord("copywriter", base, 0.02, 800, true)
			first.UserID = &userID
			created, err := ts.CreateExecutionRecord(ctx, first)
			require.NoError(t, err)
			require.NotZero(t, created.ID)

			failed := newRecord("copywriter", base.Add(time.Minute), 0.01, 200, false)
			failed.ErrorMessage = &msg
			_, err = ts.CreateExecutionRecord(ctx, failed)
			require.NoError(t, err)

			_, err = ts.CreateExecutionRecord(ctx, newRecord("designer", base, 0.5, 3000, true))
			require.NoError(t, err)

			agentID := "copywriter"
			list, err := ts.ListExecutionRecords(ctx, &store.FindExecutionRecord{AgentID: &agentID})
			require.NoError(t, err)
			require.Len(t, list, 2)

			got := list[0]
			assert.Equal(t, created.ID, got.ID)
			assert.Equal(t, base, got.CreatedTs)
			require.NotNil(t, got.UserID)
			assert.Equal(t, userID, *got.UserID)
			assert.JSONEq(t, `{"prompt":"hello"}`, string(got.Input))
			assert.Nil(t, got.Output)
			assert.Nil(t, got.QualityScore)
			assert.True(t, got.Success)

			require.NotNil(t, list[1].ErrorMessage)
			assert.Equal(t, msg, *list[1].ErrorMessage)
			assert.False(t, list[1].Success)

			successes, err := ts.ListExecutionRecords(ctx, &store.FindExecutionRecord{AgentID: &agentID, SuccessOnly: true})
			require.NoError(t, err)
			assert.Len(t, successes, 1)
		})
	}
}

func TestExecutionRecordTimeRange(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTestingStoreForDriver(ctx, t, driver)
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			for i := 0; i < 5; i++ {
				_, err := ts.CreateExecutionRecord(ctx, newRecord("a", base.Add(time.Duration(i)*time.Hour), 1, 100, true))
				require.NoError(t, err)
			}

			start, end := base.Add(time.Hour), base.Add(3*time.Hour)
			list, err := ts.ListExecutionRecords(ctx, &store.FindExecutionRecord{StartTime: &start, EndTime: &end})
			require.NoError(t, err)
			require.Len(t, list, 2, "start is inclusive, end is exclusive")
			assert.Equal(t, start, list[0].CreatedTs)
		})
	}
}

func TestExecutionRecordSortAndPaginate(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTestingStoreForDriver(ctx, t, driver)
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			costs := []float64{0.3, 0.1, 0.5, 0.2}
			ids := make([]int64, 0, len(costs))
			for _, c := range costs {
				r, err := ts.CreateExecutionRecord(ctx, newRecord("a", base, c, 100, true))
				require.NoError(t, err)
				ids = append(ids, r.ID)
			}

			byCost, err := ts.ListExecutionRecords(ctx, &store.FindExecutionRecord{SortBy: store.SortByCost, SortDesc: true})
			require.NoError(t, err)
			require.Len(t, byCost, 4)
			assert.Equal(t, 0.5, byCost[0].Cost)
			assert.Equal(t, 0.1, byCost[3].Cost)

			// Same timestamp: insertion order is kept.
			byTime, err := ts.ListExecutionRecords(ctx, &store.FindExecutionRecord{})
			require.NoError(t, err)
			for i, r := range byTime {
				assert.Equal(t, ids[i], r.ID)
			}

			page, err := ts.ListExecutionRecords(ctx, &store.FindExecutionRecord{Limit: 2, Offset: 1})
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, ids[1], page[0].ID)
			assert.Equal(t, ids[2], page[1].ID)

			tail, err := ts.ListExecutionRecords(ctx, &store.FindExecutionRecord{Offset: 3})
			require.NoError(t, err)
			require.Len(t, tail, 1)
			assert.Equal(t, ids[3], tail[0].ID)
		})
	}
}

func TestExecutionRecordPatchAndScoreSort(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTestingStoreForDriver(ctx, t, driver)
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			scored, err := ts.CreateExecutionRecord(ctx, newRecord("a", base, 1, 100, true))
			require.NoError(t, err)
			unscored, err := ts.CreateExecutionRecord(ctx, newRecord("a", base.Add(time.Second), 1, 100, true))
			require.NoError(t, err)

			score := 88.0
			require.NoError(t, ts.UpdateExecutionRecord(ctx, &store.UpdateExecutionRecord{
				ID:           scored.ID,
				QualityScore: &score,
				Metadata:     json.RawMessage(`{"reviewer":"ops"}`),
			}))

			list, err := ts.ListExecutionRecords(ctx, &store.FindExecutionRecord{SortBy: store.SortByScore, SortDesc: true})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, scored.ID, list[0].ID)
			require.NotNil(t, list[0].QualityScore)
			assert.Equal(t, score, *list[0].QualityScore)
			assert.JSONEq(t, `{"reviewer":"ops"}`, string(list[0].Metadata))
			assert.Equal(t, unscored.ID, list[1].ID)

			err = ts.UpdateExecutionRecord(ctx, &store.UpdateExecutionRecord{ID: 9999, QualityScore: &score})
			assert.True(t, engineerrors.IsCode(err, engineerrors.ErrCodeNotFound))
		})
	}
}

func TestExecutionRecordDelete(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTestingStoreForDriver(ctx, t, driver)
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			for i := 0; i < 4; i++ {
				_, err := ts.CreateExecutionRecord(ctx, newRecord("a", base.AddDate(0, 0, i), 1, 100, true))
				require.NoError(t, err)
			}

			cutoff := base.AddDate(0, 0, 2)
			deleted, err := ts.DeleteExecutionRecords(ctx, &store.DeleteExecutionRecords{BeforeTime: &cutoff})
			require.NoError(t, err)
			assert.Equal(t, int64(2), deleted)

			list, err := ts.ListExecutionRecords(ctx, nil)
			require.NoError(t, err)
			assert.Len(t, list, 2)

			_, err = ts.DeleteExecutionRecords(ctx, &store.DeleteExecutionRecords{})
			assert.Error(t, err)
		})
	}
}
