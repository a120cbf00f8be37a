// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scope

// Stage is a step of the scoping pipeline. Stages run in declaration order.
type Stage int

const (
	StageBuildProfile Stage = iota
	StageSelectSections
	StageAdjustRare
	StageAdjustAge
	StageMonitorBias
	StageDone
)

var stageNames = [...]string{
	StageBuildProfile:   "BUILD_PROFILE",
	StageSelectSections: "SELECT_SECTIONS",
	StageAdjustRare:     "ADJUST_RARE",
	StageAdjustAge:      "ADJUST_AGE",
	StageMonitorBias:    "MONITOR_BIAS",
	StageDone:           "DONE",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}
