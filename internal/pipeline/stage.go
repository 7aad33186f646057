// Package pipeline provides the multi-stage content-generation session:
// a forward-only state machine where each stage carries an editable draft
// that is confirmed into an immutable artifact before the next stage opens.
package pipeline

// Stage is one discrete step of the content pipeline.
type Stage string

const (
	// StageUploaded is the entry stage; the draft holds the uploaded media.
	StageUploaded Stage = "UPLOADED"
	// StageProductUnderstanding produces the product understanding record.
	StageProductUnderstanding Stage = "PRODUCT_UNDERSTANDING"
	// StageMarketAnalysis produces the market analysis record.
	StageMarketAnalysis Stage = "MARKET_ANALYSIS"
	// StageCreativeStrategy produces the creative strategy record.
	StageCreativeStrategy Stage = "CREATIVE_STRATEGY"
	// StageStyleMatching produces the chosen visual style.
	StageStyleMatching Stage = "STYLE_MATCHING"
	// StageScriptsGenerated produces multiple script candidates; confirming
	// requires an explicit selection.
	StageScriptsGenerated Stage = "SCRIPTS_GENERATED"
	// StageReadyToRender indicates all creative inputs are confirmed.
	StageReadyToRender Stage = "READY_TO_RENDER"
	// StageRendering indicates an external render job is in flight.
	StageRendering Stage = "RENDERING"
	// StageCompleted indicates the render finished successfully.
	StageCompleted Stage = "COMPLETED"
	// StageFailed indicates an unrecoverable error or explicit abandon.
	// Reachable from any non-terminal stage.
	StageFailed Stage = "FAILED"
)

// stageOrder is the single linear chain of forward transitions.
var stageOrder = []Stage{
	StageUploaded,
	StageProductUnderstanding,
	StageMarketAnalysis,
	StageCreativeStrategy,
	StageStyleMatching,
	StageScriptsGenerated,
	StageReadyToRender,
	StageRendering,
	StageCompleted,
}

// IsTerminal returns true if no further transition leaves the stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Next returns the stage that follows s in the linear chain, and false
// when s is terminal or unknown.
func (s Stage) Next() (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// IsGenerative returns true for stages whose draft is produced by the
// external generation collaborator. The upload stage is manual, and the
// render stages carry no editable content.
func (s Stage) IsGenerative() bool {
	switch s {
	case StageProductUnderstanding, StageMarketAnalysis, StageCreativeStrategy,
		StageStyleMatching, StageScriptsGenerated:
		return true
	default:
		return false
	}
}

// IsConfirmable returns true for stages whose draft is confirmed into an
// artifact via Confirm. The render chain advances through EnterRendering
// and the tracked job's terminal state instead.
func (s Stage) IsConfirmable() bool {
	return s == StageUploaded || s.IsGenerative()
}
