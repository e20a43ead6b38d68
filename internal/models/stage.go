package models

import "fmt"

// Stage represents the pipeline position of a post
type Stage string

const (
	StageResearching  Stage = "researching"
	StageDrafting     Stage = "drafting"
	StageIllustrating Stage = "illustrating"
	StageOptimizing   Stage = "optimizing"
	StageScheduled    Stage = "scheduled"
	StagePublished    Stage = "published"
	StageFailed       Stage = "failed"
)

// ProviderStages lists the stages that call an external provider, in pipeline order
var ProviderStages = []Stage{
	StageResearching,
	StageDrafting,
	StageIllustrating,
	StageOptimizing,
}

var nextStage = map[Stage]Stage{
	StageResearching:  StageDrafting,
	StageDrafting:     StageIllustrating,
	StageIllustrating: StageOptimizing,
	StageOptimizing:   StageScheduled,
	StageScheduled:    StagePublished,
}

// Next returns the stage that follows s on success.
// Terminal stages return themselves.
func (s Stage) Next() Stage {
	if n, ok := nextStage[s]; ok {
		return n
	}
	return s
}

// IsProviderStage reports whether advancing from s requires a provider call
func (s Stage) IsProviderStage() bool {
	for _, p := range ProviderStages {
		if p == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves s
func (s Stage) IsTerminal() bool {
	return s == StagePublished || s == StageFailed
}

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	switch s {
	case StageResearching, StageDrafting, StageIllustrating, StageOptimizing,
		StageScheduled, StagePublished, StageFailed:
		return true
	}
	return false
}

// ParseStage converts a user supplied string into a Stage
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.Valid() {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return stage, nil
}
