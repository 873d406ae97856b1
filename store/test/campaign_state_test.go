package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/campaignpilot/store"
)

func TestExperimentUpsertAndFilter(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTestingStoreForDriver(ctx, t, driver)
			now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			_, err := ts.UpsertExperiment(ctx, &store.Experiment{
				ID: "exp-1", CampaignID: "c-1", Status: "draft",
				Payload: []byte(`{"id":"exp-1"}`), CreatedTs: now, UpdatedTs: now,
			})
			require.NoError(t, err)
			_, err = ts.UpsertExperiment(ctx, &store.Experiment{
				ID: "exp-2", CampaignID: "c-1", Status: "running",
				Payload: []byte(`{"id":"exp-2"}`), CreatedTs: now.Add(time.Second), UpdatedTs: now,
			})
			require.NoError(t, err)

			// Upsert the first one again with a new status.
			_, err = ts.UpsertExperiment(ctx, &store.Experiment{
				ID: "exp-1", CampaignID: "c-1", Status: "running",
				Payload: []byte(`{"id":"exp-1","v":2}`), CreatedTs: now, UpdatedTs: now.Add(time.Minute),
			})
			require.NoError(t, err)

			running := "running"
			list, err := ts.ListExperiments(ctx, &store.FindExperiment{Status: &running})
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "exp-1", list[0].ID)
			assert.JSONEq(t, `{"id":"exp-1","v":2}`, string(list[0].Payload))
			assert.Equal(t, now.Add(time.Minute), list[0].UpdatedTs)

			id := "exp-2"
			one, err := ts.ListExperiments(ctx, &store.FindExperiment{ID: &id})
			require.NoError(t, err)
			require.Len(t, one, 1)
			assert.Equal(t, "c-1", one[0].CampaignID)
		})
	}
}

func TestCampaignStrategyReadThrough(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTestingStoreForDriver(ctx, t, driver)
			now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			_, err := ts.UpsertCampaignStrategy(ctx, &store.CampaignStrategy{
				ID: "s-1", Name: "Spring launch", Status: "draft",
				Payload: []byte(`{"id":"s-1"}`), CreatedTs: now, UpdatedTs: now,
			})
			require.NoError(t, err)

			payload, err := ts.GetCampaignStrategyPayload(ctx, "s-1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"s-1"}`, string(payload))

			missing, err := ts.GetCampaignStrategyPayload(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			draft := "draft"
			list, err := ts.ListCampaignStrategies(ctx, &store.FindCampaignStrategy{Status: &draft, Limit: 10})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "Spring launch", list[0].Name)
		})
	}
}

func TestWinningConfigUpsertAndList(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTestingStoreForDriver(ctx, t, driver)
			now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			for i, agent := range []string{"copywriter", "copywriter", "designer"} {
				_, err := ts.UpsertWinningConfig(ctx, &store.WinningConfig{
					ExperimentID:  fmt.Sprintf("exp-%d", i),
					CampaignID:    "c-1",
					AgentID:       agent,
					VariantID:     "b",
					PrimaryMetric: "conversion_rate",
					Lift:          12.5,
					Confidence:    0.95,
					Config:        []byte(`{"tone":"playful"}`),
					CreatedTs:     now.Add(time.Duration(i) * time.Minute),
				})
				require.NoError(t, err)
			}

			agent := "copywriter"
			list, err := ts.ListWinningConfigs(ctx, &store.FindWinningConfig{AgentID: &agent, Limit: 1})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, now.Add(time.Minute), list[0].CreatedTs, "newest first")
			assert.JSONEq(t, `{"tone":"playful"}`, string(list[0].Config))
			assert.JSONEq(t, `[]`, string(list[0].Insights))
			assert.Equal(t, 12.5, list[0].Lift)
		})
	}
}

func TestWinningConfigUpsertPerExperiment(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			ts := NewTestingStoreForDriver(ctx, t, driver)
			now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

			first, err := ts.UpsertWinningConfig(ctx, &store.WinningConfig{
				ExperimentID:  "exp-1",
				CampaignID:    "c-1",
				AgentID:       "copywriter",
				VariantID:     "b",
				PrimaryMetric: "conversion_rate",
				Lift:          12.5,
				CreatedTs:     now,
			})
			require.NoError(t, err)
			firstID := first.ID

			second, err := ts.UpsertWinningConfig(ctx, &store.WinningConfig{
				ExperimentID:  "exp-1",
				CampaignID:    "c-1",
				AgentID:       "copywriter",
				VariantID:     "c",
				PrimaryMetric: "conversion_rate",
				Lift:          20,
				CreatedTs:     now.Add(time.Hour),
			})
			require.NoError(t, err)
			assert.Equal(t, firstID, second.ID)

			list, err := ts.ListWinningConfigs(ctx, &store.FindWinningConfig{})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "c", list[0].VariantID)
			assert.Equal(t, 20.0, list[0].Lift)
			assert.Equal(t, now, list[0].CreatedTs, "first declaration time is kept")
		})
	}
}
