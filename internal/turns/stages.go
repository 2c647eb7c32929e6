package turns

// Pipeline stages in execution order.
const (
	StageTurn = iota + 1
	StageValidation
	StageMarket
	StageOperations
	StageInvestments
	StagePlugins
	StagePostProcessing
	StageComplete
)

var stageNames = map[int]string{
	StageTurn:           "get_or_create_turn",
	StageValidation:     "pre_processing_validation",
	StageMarket:         "market_simulation",
	StageOperations:     "operations_simulation",
	StageInvestments:    "investment_simulation",
	StagePlugins:        "plugin_calculation",
	StagePostProcessing: "post_processing",
	StageComplete:       "complete",
}

// StageName returns the name of a stage.
func StageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return "unknown"
}
