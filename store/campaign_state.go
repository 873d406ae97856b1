package store

import "time"

// Experiment is the persisted form of an A/B experiment. Payload holds the
// JSON-serialized experiment; ID, CampaignID and Status are denormalized for lookup.
type Experiment struct {
	ID         string
	CampaignID string
	Status     string
	Payload    []byte
	CreatedTs  time.Time
	UpdatedTs  time.Time
}

// FindExperiment specifies the conditions for finding experiments.
type FindExperiment struct {
	ID         *string
	CampaignID *string
	Status     *string
}

// CampaignStrategy is the persisted form of a generated campaign plan.
type CampaignStrategy struct {
	ID        string
	Name      string
	Status    string
	Payload   []byte
	CreatedTs time.Time
	UpdatedTs time.Time
}

// FindCampaignStrategy specifies the conditions for finding strategies.
type FindCampaignStrategy struct {
	ID     *string
	Status *string
	Limit  int
}

// WinningConfig is the configuration of a declared experiment winner, kept for
// reuse by future planning.
type WinningConfig struct {
	ID            int64
	ExperimentID  string
	CampaignID    string
	AgentID       string // agent the winning variant exercised, may be empty
	VariantID     string
	PrimaryMetric string
	Lift          float64 // relative improvement over control, percent
	Confidence    float64
	Config        []byte // JSON variant configuration
	Insights      []byte // JSON list of insight strings
	CreatedTs     time.Time
}

// FindWinningConfig specifies the conditions for finding winning configs.
type FindWinningConfig struct {
	AgentID    *string
	CampaignID *string
	Limit      int
}
