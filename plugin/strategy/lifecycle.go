package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
	"github.com/hrygo/campaignpilot/internal/retry"
	"github.com/hrygo/campaignpilot/store"
)

// transitions lists the legal status changes; completed and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusApproved, StatusCancelled},
	StatusApproved:  {StatusExecuting, StatusCancelled},
	StatusExecuting: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a strategy may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Get loads a strategy by id.
func (p *Planner) Get(ctx context.Context, id string) (*CampaignStrategy, error) {
	if id == "" {
		return nil, engineerrors.InvalidArgument("id", "strategy id is required")
	}
	payload, err := retry.Do(ctx, p.policy, "strategy.get", func(ctx context.Context) ([]byte, error) {
		return p.repo.GetCampaignStrategyPayload(ctx, id)
	})
	if err != nil {
		return nil, engineerrors.DependencyUnavailable("load strategy", err)
	}
	if payload == nil {
		return nil, engineerrors.NotFound("strategy", id)
	}
	return decode(payload)
}

// List returns stored strategies, newest first, optionally filtered by status.
func (p *Planner) List(ctx context.Context, status Status, limit int) ([]*CampaignStrategy, error) {
	find := &store.FindCampaignStrategy{Limit: limit}
	if status != "" {
		s := string(status)
		find.Status = &s
	}
	rows, err := retry.Do(ctx, p.policy, "strategy.list", func(ctx context.Context) ([]*store.CampaignStrategy, error) {
		return p.repo.ListCampaignStrategies(ctx, find)
	})
	if err != nil {
		return nil, engineerrors.DependencyUnavailable("list strategies", err)
	}

	list := make([]*CampaignStrategy, 0, len(rows))
	for _, row := range rows {
		s, err := decode(row.Payload)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, nil
}

// Transition moves a stored strategy to a new status.
func (p *Planner) Transition(ctx context.Context, id string, to Status) (*CampaignStrategy, error) {
	p.transitions.Lock()
	defer p.transitions.Unlock()

	s, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(s.Status, to) {
		return nil, engineerrors.FailedPrecondition(fmt.Sprintf("strategy %s cannot move from %s to %s", id, s.Status, to))
	}

	from := s.Status
	s.Status = to
	s.UpdatedAt = p.now().UTC()
	if err := p.save(ctx, s); err != nil {
		return nil, err
	}
	p.logger.Info("strategy status changed",
		slog.String("strategy_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return s, nil
}

// Approve moves a draft strategy to approved.
func (p *Planner) Approve(ctx context.Context, id string) (*CampaignStrategy, error) {
	return p.Transition(ctx, id, StatusApproved)
}

// Execute moves an approved strategy to executing.
func (p *Planner) Execute(ctx context.Context, id string) (*CampaignStrategy, error) {
	return p.Transition(ctx, id, StatusExecuting)
}

// Complete moves an executing strategy to completed.
func (p *Planner) Complete(ctx context.Context, id string) (*CampaignStrategy, error) {
	return p.Transition(ctx, id, StatusCompleted)
}

// Cancel cancels any non-terminal strategy.
func (p *Planner) Cancel(ctx context.Context, id string) (*CampaignStrategy, error) {
	return p.Transition(ctx, id, StatusCancelled)
}

// Clone copies a strategy under a new id as a draft. Estimates are kept as
// they were; action ids are regenerated and dependencies remapped.
func (p *Planner) Clone(ctx context.Context, id string) (*CampaignStrategy, error) {
	src, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Round-trip through JSON for a deep copy.
	payload, err := json.Marshal(src)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal strategy")
	}
	clone, err := decode(payload)
	if err != nil {
		return nil, err
	}

	remap := make(map[string]string, len(clone.Actions))
	for i := range clone.Actions {
		newID := shortuuid.New()
		remap[clone.Actions[i].ID] = newID
		clone.Actions[i].ID = newID
	}
	for i := range clone.Actions {
		for j, dep := range clone.Actions[i].DependsOn {
			clone.Actions[i].DependsOn[j] = remap[dep]
		}
	}

	now := p.now().UTC()
	clone.ID = shortuuid.New()
	clone.Status = StatusDraft
	clone.ClonedFrom = src.ID
	clone.CreatedAt = now
	clone.UpdatedAt = now
	if err := p.save(ctx, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

func (p *Planner) save(ctx context.Context, s *CampaignStrategy) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "failed to marshal strategy")
	}
	_, err = retry.Do(ctx, p.policy, "strategy.save", func(ctx context.Context) (*store.CampaignStrategy, error) {
		return p.repo.UpsertCampaignStrategy(ctx, &store.CampaignStrategy{
			ID:        s.ID,
			Name:      s.Name,
			Status:    string(s.Status),
			Payload:   payload,
			CreatedTs: s.CreatedAt,
			UpdatedTs: s.UpdatedAt,
		})
	})
	if err != nil {
		return engineerrors.DependencyUnavailable("save strategy", err)
	}
	return nil
}

func decode(payload []byte) (*CampaignStrategy, error) {
	var s CampaignStrategy
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal strategy")
	}
	return &s, nil
}
