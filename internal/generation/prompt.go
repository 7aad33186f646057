package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/semopic/director-api/internal/pipeline"
)

// stageInstructions describe the JSON object each stage expects back.
// The accumulated artifacts are appended as context so later stages build
// on confirmed earlier decisions.
var stageInstructions = map[pipeline.Stage]string{
	pipeline.StageProductUnderstanding: `You are an e-commerce video director analyzing a product for a short promotional video.
Study the product context and return a JSON object with fields:
"product_name" (string), "category" (string), "selling_points" (array of strings),
"size_options" (array of strings, the purchasable variants), "usage_summary" (string).`,

	pipeline.StageMarketAnalysis: `You are a market analyst preparing a short-video campaign.
Based on the confirmed product understanding, return a JSON object with fields:
"target_audience" (string), "region" (string), "competitors" (array of strings),
"positioning" (string), "insights" (array of strings).`,

	pipeline.StageCreativeStrategy: `You are a creative director planning a product video.
Based on the confirmed product and market context, return a JSON object with fields:
"hook" (string, the opening idea), "angle" (string), "emotion_start" (string),
"emotion_end" (string), "call_to_action" (string).`,

	pipeline.StageStyleMatching: `You are choosing the visual style for a short product video.
Based on the confirmed creative strategy, return a JSON object with fields:
"style_type" (one of realistic, casual, professional, cinematic),
"orientation" (portrait or landscape), "resolution" (720p or 1080p),
"duration_sec" (integer, 10 to 25), "custom_description" (string).`,

	pipeline.StageScriptsGenerated: fmt.Sprintf(`You are writing shot-by-shot scripts for a short product video.
Based on all confirmed context, return a JSON array of exactly %d alternative scripts.
Each script is an object with fields: "title" (string), "language" (string),
"shots" (array of objects with "time", "scene", "action", "audio", "emotion", all strings).`, scriptCandidateCount),
}

// promptFor assembles the instruction and artifact context for one stage.
func promptFor(stage pipeline.Stage, artifacts pipeline.Artifacts) (string, error) {
	instruction, ok := stageInstructions[stage]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedStage, stage)
	}

	context, err := json.MarshalIndent(artifacts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode artifacts: %w", err)
	}

	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nConfirmed context so far:\n")
	b.Write(context)
	b.WriteString("\n\nRespond with JSON only, no prose.")
	return b.String(), nil
}
