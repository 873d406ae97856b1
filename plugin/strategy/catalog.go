package strategy

import (
	"fmt"

	engineerrors "github.com/hrygo/campaignpilot/internal/errors"
)

// AgentSpec is the planning template of one agent.
type AgentSpec struct {
	ID              string     `json:"id"`
	Capability      Capability `json:"capability"`
	Stage           Stage      `json:"stage"`
	BaseCost        float64    `json:"base_cost"`
	DurationMin     int        `json:"duration_min"`
	Priority        Priority   `json:"priority"`
	ActionName      string     `json:"action_name"`
	Instruction     string     `json:"instruction"` // {objective} is replaced by the campaign objective
	ExpectedOutputs []string   `json:"expected_outputs"`
}

// Catalog holds every lookup table the planner uses. Callers may load
// their own; DefaultCatalog supplies the built-in tables.
type Catalog struct {
	Agents map[string]AgentSpec `json:"agents"`

	// RequiredByGoal lists agents every campaign of a goal type needs.
	RequiredByGoal map[GoalType][]string `json:"required_by_goal"`
	// OptionalByGoal lists candidates ranked and truncated to the action budget.
	OptionalByGoal map[GoalType][]string `json:"optional_by_goal"`
	// ChannelAgents maps a delivery platform to the agent that serves it.
	ChannelAgents map[string]string `json:"channel_agents"`
	// GoalBoost adds points to an agent's campaign score per goal type.
	GoalBoost map[GoalType]map[string]float64 `json:"goal_boost"`
	// SegmentMultiplier scales the goal boost per audience segment; missing entries are 1.
	SegmentMultiplier map[string]map[string]float64 `json:"segment_multiplier"`
	// Prerequisites lists the capabilities an action depends on when present.
	Prerequisites map[Capability][]Capability `json:"prerequisites"`

	CostPenaltyThreshold    float64 `json:"cost_penalty_threshold"`    // average cost per run
	LatencyPenaltyThreshold float64 `json:"latency_penalty_threshold"` // average execution ms
	CostPenalty             float64 `json:"cost_penalty"`
	LatencyPenalty          float64 `json:"latency_penalty"`
}

// knowsGoal reports whether the goal has a required-agent table.
func (c *Catalog) knowsGoal(goal GoalType) bool {
	_, ok := c.RequiredByGoal[goal]
	return ok
}

// Validate checks that every table references known agents and stages.
func (c *Catalog) Validate() error {
	if len(c.Agents) == 0 {
		return engineerrors.Configuration("catalog.agents", "no agents defined")
	}
	for id, spec := range c.Agents {
		if spec.ID != id {
			return engineerrors.Configuration("catalog.agents", fmt.Sprintf("agent %q registered under %q", spec.ID, id))
		}
		if spec.Stage.Order() < 0 {
			return engineerrors.Configuration("catalog.agents", fmt.Sprintf("agent %q has unknown stage %q", id, spec.Stage))
		}
		if spec.BaseCost < 0 || spec.DurationMin < 0 {
			return engineerrors.Configuration("catalog.agents", fmt.Sprintf("agent %q has negative cost or duration", id))
		}
	}
	check := func(field string, ids []string) error {
		for _, id := range ids {
			if _, ok := c.Agents[id]; !ok {
				return engineerrors.Configuration(field, fmt.Sprintf("unknown agent %q", id))
			}
		}
		return nil
	}
	for goal, ids := range c.RequiredByGoal {
		if err := check("catalog.required_by_goal."+string(goal), ids); err != nil {
			return err
		}
	}
	for goal, ids := range c.OptionalByGoal {
		if !c.knowsGoal(goal) {
			return engineerrors.Configuration("catalog.optional_by_goal", fmt.Sprintf("goal %q has no required agents", goal))
		}
		if err := check("catalog.optional_by_goal."+string(goal), ids); err != nil {
			return err
		}
	}
	for platform, id := range c.ChannelAgents {
		if err := check("catalog.channel_agents."+platform, []string{id}); err != nil {
			return err
		}
	}
	if c.CostPenalty <= 0 || c.CostPenalty > 1 || c.LatencyPenalty <= 0 || c.LatencyPenalty > 1 {
		return engineerrors.Configuration("catalog.penalties", "penalties must be in (0, 1]")
	}
	return nil
}

// DefaultCatalog returns the built-in planning tables.
func DefaultCatalog() *Catalog {
	agents := []AgentSpec{
		{ID: "trend-agent", Capability: CapTrendResearch, Stage: StageResearch, BaseCost: 0.15, DurationMin: 60, Priority: PriorityMedium,
			ActionName: "Research market trends", Instruction: "Identify current trends relevant to: {objective}", ExpectedOutputs: []string{"trend_report"}},
		{ID: "audience-agent", Capability: CapAudienceAnalysis, Stage: StageResearch, BaseCost: 0.10, DurationMin: 45, Priority: PriorityMedium,
			ActionName: "Analyze target audience", Instruction: "Profile the target audience for: {objective}", ExpectedOutputs: []string{"audience_profile"}},
		{ID: "analytics-agent", Capability: CapPerformanceAnalysis, Stage: StageResearch, BaseCost: 0.08, DurationMin: 30, Priority: PriorityLow,
			ActionName: "Review past campaign performance", Instruction: "Summarise what worked in past campaigns similar to: {objective}", ExpectedOutputs: []string{"performance_baseline"}},
		{ID: "strategy-agent", Capability: CapStrategyPlanning, Stage: StageStrategy, BaseCost: 0.20, DurationMin: 90, Priority: PriorityHigh,
			ActionName: "Draft messaging strategy", Instruction: "Draft the messaging framework for: {objective}", ExpectedOutputs: []string{"messaging_framework"}},
		{ID: "brand-voice-agent", Capability: CapBrandVoice, Stage: StageStrategy, BaseCost: 0.05, DurationMin: 30, Priority: PriorityHigh,
			ActionName: "Define brand voice guidelines", Instruction: "Set tone and voice guidelines for: {objective}", ExpectedOutputs: []string{"voice_guidelines"}},
		{ID: "content-agent", Capability: CapContentGeneration, Stage: StageContent, BaseCost: 0.30, DurationMin: 120, Priority: PriorityHigh,
			ActionName: "Create campaign content", Instruction: "Write campaign content for: {objective}", ExpectedOutputs: []string{"copy_drafts", "long_form_content"}},
		{ID: "seo-agent", Capability: CapSEOOptimization, Stage: StageOptimization, BaseCost: 0.12, DurationMin: 45, Priority: PriorityMedium,
			ActionName: "Optimize content for search", Instruction: "Optimise campaign content for search intent around: {objective}", ExpectedOutputs: []string{"seo_keywords", "optimized_copy"}},
		{ID: "visual-agent", Capability: CapVisualDesign, Stage: StageOptimization, BaseCost: 0.40, DurationMin: 90, Priority: PriorityMedium,
			ActionName: "Produce creative assets", Instruction: "Design visual assets supporting: {objective}", ExpectedOutputs: []string{"visual_assets"}},
		{ID: "social-agent", Capability: CapChannelDelivery, Stage: StageExecution, BaseCost: 0.10, DurationMin: 30, Priority: PriorityHigh,
			ActionName: "Publish social posts", Instruction: "Schedule social posts for: {objective}", ExpectedOutputs: []string{"social_schedule"}},
		{ID: "email-agent", Capability: CapChannelDelivery, Stage: StageExecution, BaseCost: 0.08, DurationMin: 30, Priority: PriorityHigh,
			ActionName: "Send email campaign", Instruction: "Build and schedule the email sequence for: {objective}", ExpectedOutputs: []string{"email_sequence"}},
		{ID: "ads-agent", Capability: CapChannelDelivery, Stage: StageExecution, BaseCost: 0.50, DurationMin: 45, Priority: PriorityHigh,
			ActionName: "Launch paid ads", Instruction: "Set up paid placements for: {objective}", ExpectedOutputs: []string{"ad_set"}},
		{ID: "sms-agent", Capability: CapChannelDelivery, Stage: StageExecution, BaseCost: 0.06, DurationMin: 15, Priority: PriorityMedium,
			ActionName: "Send SMS messages", Instruction: "Write and schedule SMS messages for: {objective}", ExpectedOutputs: []string{"sms_messages"}},
	}

	c := &Catalog{
		Agents: make(map[string]AgentSpec, len(agents)),
		RequiredByGoal: map[GoalType][]string{
			GoalProductLaunch:     {"content-agent", "brand-voice-agent"},
			GoalBrandAwareness:    {"brand-voice-agent", "visual-agent"},
			GoalLeadGeneration:    {"content-agent", "audience-agent"},
			GoalCustomerRetention: {"content-agent", "analytics-agent"},
			GoalSeasonalPromotion: {"content-agent", "visual-agent"},
			GoalEventPromotion:    {"content-agent", "audience-agent"},
		},
		OptionalByGoal: map[GoalType][]string{
			GoalProductLaunch:     {"trend-agent", "audience-agent", "strategy-agent", "seo-agent", "visual-agent", "analytics-agent"},
			GoalBrandAwareness:    {"trend-agent", "audience-agent", "strategy-agent", "content-agent", "seo-agent"},
			GoalLeadGeneration:    {"strategy-agent", "seo-agent", "analytics-agent", "trend-agent"},
			GoalCustomerRetention: {"audience-agent", "strategy-agent", "brand-voice-agent"},
			GoalSeasonalPromotion: {"trend-agent", "strategy-agent", "seo-agent", "brand-voice-agent"},
			GoalEventPromotion:    {"strategy-agent", "visual-agent", "brand-voice-agent", "trend-agent"},
		},
		ChannelAgents: map[string]string{
			"social":  "social-agent",
			"email":   "email-agent",
			"ads":     "ads-agent",
			"sms":     "sms-agent",
			"content": "content-agent",
			"blog":    "content-agent",
			"seo":     "seo-agent",
		},
		GoalBoost: map[GoalType]map[string]float64{
			GoalProductLaunch:     {"trend-agent": 15, "content-agent": 10, "visual-agent": 8, "seo-agent": 5},
			GoalBrandAwareness:    {"visual-agent": 15, "brand-voice-agent": 10, "social-agent": 10, "trend-agent": 5},
			GoalLeadGeneration:    {"seo-agent": 15, "audience-agent": 10, "email-agent": 10, "ads-agent": 8},
			GoalCustomerRetention: {"email-agent": 15, "analytics-agent": 10, "audience-agent": 8},
			GoalSeasonalPromotion: {"visual-agent": 10, "ads-agent": 10, "trend-agent": 8},
			GoalEventPromotion:    {"social-agent": 15, "sms-agent": 10, "visual-agent": 8},
		},
		SegmentMultiplier: map[string]map[string]float64{
			"b2b":        {"seo-agent": 1.2, "email-agent": 1.2, "analytics-agent": 1.1, "social-agent": 0.8, "visual-agent": 0.9},
			"b2c":        {"social-agent": 1.3, "visual-agent": 1.2, "sms-agent": 1.1, "seo-agent": 0.9},
			"enterprise": {"strategy-agent": 1.2, "brand-voice-agent": 1.1, "analytics-agent": 1.2},
			"youth":      {"social-agent": 1.5, "visual-agent": 1.3, "email-agent": 0.7},
		},
		Prerequisites: map[Capability][]Capability{
			CapStrategyPlanning:  {CapTrendResearch, CapAudienceAnalysis, CapPerformanceAnalysis},
			CapBrandVoice:        {CapAudienceAnalysis},
			CapContentGeneration: {CapTrendResearch, CapStrategyPlanning, CapBrandVoice},
			CapSEOOptimization:   {CapContentGeneration},
			CapVisualDesign:      {CapContentGeneration, CapBrandVoice},
			CapChannelDelivery:   {CapContentGeneration},
		},
		CostPenaltyThreshold:    0.10,
		LatencyPenaltyThreshold: 10000,
		CostPenalty:             0.9,
		LatencyPenalty:          0.95,
	}
	for _, a := range agents {
		c.Agents[a.ID] = a
	}
	return c
}
