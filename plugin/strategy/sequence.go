package strategy

import (
	"sort"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// sequence emits one action per selected agent, stage by stage. Each action
// depends on the most recent earlier action of every prerequisite capability,
// so independent actions in a stage share dependencies without depending on
// each other.
func (p *Planner) sequence(req *Request, selection []AgentSelection) []AgentAction {
	byStage := make(map[Stage][]AgentSpec)
	for _, sel := range selection {
		spec := p.catalog.Agents[sel.AgentID]
		byStage[spec.Stage] = append(byStage[spec.Stage], spec)
	}

	platformsByAgent := make(map[string][]string)
	for _, platform := range req.Platforms {
		id := p.catalog.ChannelAgents[platform]
		platformsByAgent[id] = append(platformsByAgent[id], platform)
	}

	actions := make([]AgentAction, 0, len(selection))
	for _, stage := range Stages {
		specs := byStage[stage]
		sort.SliceStable(specs, func(i, j int) bool {
			wi, wj := specs[i].Priority.weight(), specs[j].Priority.weight()
			if wi != wj {
				return wi > wj
			}
			return specs[i].ID < specs[j].ID
		})

		emitted := len(actions)
		for _, spec := range specs {
			action := AgentAction{
				ID:                   shortuuid.New(),
				AgentID:              spec.ID,
				Name:                 spec.ActionName,
				Instruction:          strings.ReplaceAll(spec.Instruction, "{objective}", req.Objective),
				Config:               actionConfig(req, platformsByAgent[spec.ID]),
				DependsOn:            dependencies(actions[:emitted], p.catalog.Prerequisites[spec.Capability]),
				EstimatedDurationMin: spec.DurationMin,
				Priority:             spec.Priority,
				Stage:                spec.Stage,
				Capability:           spec.Capability,
				ExpectedOutputs:      append([]string(nil), spec.ExpectedOutputs...),
			}
			actions = append(actions, action)
		}
	}
	return actions
}

// dependencies returns, for each prerequisite, the id of the latest action
// providing it. Missing prerequisites are skipped.
func dependencies(earlier []AgentAction, prerequisites []Capability) []string {
	deps := make([]string, 0, len(prerequisites))
	for _, capability := range prerequisites {
		for i := len(earlier) - 1; i >= 0; i-- {
			if earlier[i].Capability == capability {
				deps = append(deps, earlier[i].ID)
				break
			}
		}
	}
	return deps
}

func actionConfig(req *Request, platforms []string) map[string]any {
	config := map[string]any{
		"goal":          string(req.Goal),
		"segment":       req.Audience.Segment,
		"content_types": append([]string(nil), req.ContentTypes...),
	}
	if req.Audience.Size > 0 {
		config["audience_size"] = req.Audience.Size
	}
	if req.Context.BrandVoice != "" {
		config["brand_voice"] = req.Context.BrandVoice
	}
	if req.Context.Industry != "" {
		config["industry"] = req.Context.Industry
	}
	if len(platforms) > 0 {
		config["platforms"] = platforms
	}
	return config
}

// rollup computes the plan estimates. Stages run one after another and the
// actions inside a stage run in parallel, so duration is the sum of the
// longest action of each stage.
func rollup(s *CampaignStrategy, catalog *Catalog) {
	var cost, performanceSum, brandSum float64
	longest := make(map[Stage]int)
	for _, a := range s.Actions {
		cost += catalog.Agents[a.AgentID].BaseCost
		if a.EstimatedDurationMin > longest[a.Stage] {
			longest[a.Stage] = a.EstimatedDurationMin
		}
		if a.PerformanceScore != nil {
			performanceSum += *a.PerformanceScore
		}
		if a.BrandScore != nil {
			brandSum += *a.BrandScore
		}
	}

	duration := 0
	for _, stage := range Stages {
		duration += longest[stage]
	}

	s.EstimatedCost = cost
	s.EstimatedDurationMin = duration
	s.BrandAlignment = 0
	s.SuccessProbability = 0
	if n := float64(len(s.Actions)); n > 0 {
		s.BrandAlignment = brandSum / n
		s.SuccessProbability = min(maxSuccessProbability, 0.8*performanceSum/n+0.2*s.BrandAlignment)
	}
}

// timeline splits the campaign window evenly across the stages present.
func timeline(actions []AgentAction, window Window) []StageWindow {
	present := make(map[Stage]bool)
	for _, a := range actions {
		present[a.Stage] = true
	}
	stages := make([]Stage, 0, len(present))
	for _, stage := range Stages {
		if present[stage] {
			stages = append(stages, stage)
		}
	}
	if len(stages) == 0 {
		return []StageWindow{}
	}

	span := window.End.Sub(window.Start) / time.Duration(len(stages))
	out := make([]StageWindow, len(stages))
	for i, stage := range stages {
		start := window.Start.Add(time.Duration(i) * span)
		end := start.Add(span)
		if i == len(stages)-1 {
			end = window.End
		}
		out[i] = StageWindow{Stage: stage, Start: start, End: end}
	}
	return out
}
