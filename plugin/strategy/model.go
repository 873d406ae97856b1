// Package strategy plans campaigns: it selects agents from ledger and health
// data, sequences their actions into a dependency graph and estimates the
// resulting plan.
package strategy

import (
	"time"
)

// GoalType is the kind of campaign being planned.
type GoalType string

const (
	GoalProductLaunch     GoalType = "product_launch"
	GoalBrandAwareness    GoalType = "brand_awareness"
	GoalLeadGeneration    GoalType = "lead_generation"
	GoalCustomerRetention GoalType = "customer_retention"
	GoalSeasonalPromotion GoalType = "seasonal_promotion"
	GoalEventPromotion    GoalType = "event_promotion"
)

// Stage is a pipeline stage; stages run sequentially in Order.
type Stage string

const (
	StageResearch     Stage = "research"
	StageStrategy     Stage = "strategy"
	StageContent      Stage = "content"
	StageOptimization Stage = "optimization"
	StageExecution    Stage = "execution"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageResearch, StageStrategy, StageContent, StageOptimization, StageExecution}

// Order returns the position of the stage in the pipeline, or -1.
func (s Stage) Order() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Capability is what an agent contributes to a campaign.
type Capability string

const (
	CapTrendResearch       Capability = "trend_research"
	CapAudienceAnalysis    Capability = "audience_analysis"
	CapPerformanceAnalysis Capability = "performance_analysis"
	CapStrategyPlanning    Capability = "strategy_planning"
	CapBrandVoice          Capability = "brand_voice"
	CapContentGeneration   Capability = "content_generation"
	CapSEOOptimization     Capability = "seo_optimization"
	CapVisualDesign        Capability = "visual_design"
	CapChannelDelivery     Capability = "channel_delivery"
)

// Priority of an action.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Status is the lifecycle state of a strategy.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// SelectionCriteria re-weights optional agent ranking.
type SelectionCriteria string

const (
	SelectBalanced    SelectionCriteria = "balanced"
	SelectPerformance SelectionCriteria = "performance"
	SelectCost        SelectionCriteria = "cost"
)

// Audience is who the campaign targets.
type Audience struct {
	Segment string `json:"segment"`
	Size    int64  `json:"size,omitempty"`
}

// CampaignContext carries brand and market context handed to agents.
type CampaignContext struct {
	Industry   string `json:"industry,omitempty"`
	BrandVoice string `json:"brand_voice,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Budget is an optional spending ceiling.
type Budget struct {
	Max      float64 `json:"max"`
	Currency string  `json:"currency,omitempty"`
}

// Window is the calendar span of a campaign.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Options tune agent selection.
type Options struct {
	MaxActions        int               `json:"max_actions,omitempty"`
	SelectionCriteria SelectionCriteria `json:"selection_criteria,omitempty"`
}

// Request describes the campaign to plan.
type Request struct {
	Name         string          `json:"name"`
	Objective    string          `json:"objective"`
	Goal         GoalType        `json:"goal"`
	Audience     Audience        `json:"audience"`
	Context      CampaignContext `json:"context"`
	Platforms    []string        `json:"platforms"`
	ContentTypes []string        `json:"content_types"`
	Budget       *Budget         `json:"budget,omitempty"`
	Window       Window          `json:"window"`
	Options      Options         `json:"options"`
}

// AgentAction is one step of a plan. DependsOn holds ids of earlier actions.
type AgentAction struct {
	ID                   string         `json:"id"`
	AgentID              string         `json:"agent_id"`
	Name                 string         `json:"name"`
	Instruction          string         `json:"instruction"`
	Config               map[string]any `json:"config,omitempty"`
	DependsOn            []string       `json:"depends_on"`
	EstimatedDurationMin int            `json:"estimated_duration_min"`
	Priority             Priority       `json:"priority"`
	Stage                Stage          `json:"stage"`
	Capability           Capability     `json:"capability"`
	ExpectedOutputs      []string       `json:"expected_outputs"`
	PerformanceScore     *float64       `json:"performance_score,omitempty"`
	BrandScore           *float64       `json:"brand_score,omitempty"`
}

// StageWindow is the slice of the campaign window given to one stage.
type StageWindow struct {
	Stage Stage     `json:"stage"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AgentSelection records why an agent was chosen.
type AgentSelection struct {
	AgentID       string  `json:"agent_id"`
	CampaignScore float64 `json:"campaign_score"`
	LearnedBonus  float64 `json:"learned_bonus,omitempty"`
	Required      bool    `json:"required"`
}

// CampaignStrategy is a complete plan.
type CampaignStrategy struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Objective            string           `json:"objective"`
	Goal                 GoalType         `json:"goal"`
	Audience             Audience         `json:"audience"`
	Context              CampaignContext  `json:"context"`
	Platforms            []string         `json:"platforms"`
	ContentTypes         []string         `json:"content_types"`
	Budget               *Budget          `json:"budget,omitempty"`
	Window               Window           `json:"window"`
	Selection            []AgentSelection `json:"selection"`
	Actions              []AgentAction    `json:"actions"`
	Timeline             []StageWindow    `json:"timeline"`
	EstimatedCost        float64          `json:"estimated_cost"`
	EstimatedDurationMin int              `json:"estimated_duration_min"`
	BrandAlignment       float64          `json:"brand_alignment"`
	SuccessProbability   float64          `json:"success_probability"`
	Status               Status           `json:"status"`
	ClonedFrom           string           `json:"cloned_from,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Action returns the action with the id, or nil.
func (s *CampaignStrategy) Action(id string) *AgentAction {
	for i := range s.Actions {
		if s.Actions[i].ID == id {
			return &s.Actions[i]
		}
	}
	return nil
}

// ActionsFor returns the actions executed by an agent.
func (s *CampaignStrategy) ActionsFor(agentID string) []AgentAction {
	var out []AgentAction
	for _, a := range s.Actions {
		if a.AgentID == agentID {
			out = append(out, a)
		}
	}
	return out
}
