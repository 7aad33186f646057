package generation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semopic/director-api/internal/pipeline"
)

func TestNewGemini_RequiresAPIKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestPromptFor_IncludesArtifactContext(t *testing.T) {
	artifacts := pipeline.Artifacts{
		Product: &pipeline.ProductUnderstanding{
			ProductName: "Ceramic Mug",
			SizeOptions: []string{"350ml"},
		},
	}

	prompt, err := promptFor(pipeline.StageMarketAnalysis, artifacts)
	require.NoError(t, err)

	assert.Contains(t, prompt, "Ceramic Mug")
	assert.Contains(t, prompt, "target_audience")
	assert.Contains(t, prompt, "JSON only")
}

func TestPromptFor_UnsupportedStage(t *testing.T) {
	_, err := promptFor(pipeline.StageReadyToRender, pipeline.Artifacts{})
	assert.ErrorIs(t, err, ErrUnsupportedStage)
}

func TestPromptFor_ScriptStageAsksForCandidates(t *testing.T) {
	prompt, err := promptFor(pipeline.StageScriptsGenerated, pipeline.Artifacts{})
	require.NoError(t, err)
	assert.Contains(t, prompt, "exactly 3 alternative scripts")
}

func TestDecodeDraft_PerStage(t *testing.T) {
	tests := []struct {
		name  string
		stage pipeline.Stage
		body  string
		check func(t *testing.T, d *pipeline.Draft)
	}{
		{
			name:  "product understanding",
			stage: pipeline.StageProductUnderstanding,
			body:  `{"product_name":"Mug","size_options":["350ml","500ml"]}`,
			check: func(t *testing.T, d *pipeline.Draft) {
				require.NotNil(t, d.Product)
				assert.Equal(t, "Mug", d.Product.ProductName)
				assert.Len(t, d.Product.SizeOptions, 2)
			},
		},
		{
			name:  "market analysis",
			stage: pipeline.StageMarketAnalysis,
			body:  `{"target_audience":"students","insights":["price sensitive"]}`,
			check: func(t *testing.T, d *pipeline.Draft) {
				require.NotNil(t, d.Market)
				assert.Equal(t, "students", d.Market.TargetAudience)
			},
		},
		{
			name:  "style matching",
			stage: pipeline.StageStyleMatching,
			body:  `{"style_type":"cinematic","duration_sec":15}`,
			check: func(t *testing.T, d *pipeline.Draft) {
				require.NotNil(t, d.Style)
				assert.Equal(t, 15, d.Style.DurationSec)
			},
		},
		{
			name:  "script candidates",
			stage: pipeline.StageScriptsGenerated,
			body:  `[{"title":"A","shots":[{"scene":"kitchen"}]},{"title":"B","shots":[{"scene":"office"}]},{"title":"C","shots":[{"scene":"street"}]}]`,
			check: func(t *testing.T, d *pipeline.Draft) {
				require.Len(t, d.Scripts, 3)
				assert.Equal(t, "B", d.Scripts[1].Title)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft, err := decodeDraft(tt.stage, []byte(tt.body))
			require.NoError(t, err)
			tt.check(t, draft)
		})
	}
}

func TestDecodeDraft_MalformedJSON(t *testing.T) {
	_, err := decodeDraft(pipeline.StageProductUnderstanding, []byte(`{"product_name":`))
	assert.Error(t, err)
}

func TestDecodeDraft_UnsupportedStage(t *testing.T) {
	_, err := decodeDraft(pipeline.StageRendering, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnsupportedStage)
}

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n[1,2]\n```", `[1,2]`},
		{`  {"a":1}  `, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := cleanJSONBlock(tt.in); got != tt.want {
			t.Errorf("cleanJSONBlock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanJSONBlock_LeavesPlainJSON(t *testing.T) {
	in := "{\"shots\": [\"a```b\"]}"
	if got := cleanJSONBlock(in); !strings.Contains(got, "a```b") {
		t.Errorf("inner backticks must survive, got %q", got)
	}
}
