package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Upload is the entry-stage record of the media a session starts from.
type Upload struct {
	// ImageURLs are the uploaded product images.
	ImageURLs []string `json:"image_urls" validate:"min=1"`
	// UsageDescription is the seller's free-form usage notes.
	UsageDescription string `json:"usage_description"`
}

// ProductUnderstanding is the confirmed understanding of the product.
type ProductUnderstanding struct {
	ProductName   string   `json:"product_name" validate:"required"`
	Category      string   `json:"category"`
	SellingPoints []string `json:"selling_points"`
	// SizeOptions lists the purchasable variants; at least one is required
	// before the pipeline may advance.
	SizeOptions  []string `json:"size_options" validate:"min=1"`
	UsageSummary string   `json:"usage_summary"`
}

// MarketAnalysis is the confirmed market analysis record.
type MarketAnalysis struct {
	TargetAudience string   `json:"target_audience" validate:"required"`
	Region         string   `json:"region"`
	Competitors    []string `json:"competitors"`
	Positioning    string   `json:"positioning"`
	Insights       []string `json:"insights"`
}

// CreativeStrategy is the confirmed creative direction for the video.
type CreativeStrategy struct {
	Hook         string `json:"hook" validate:"required"`
	Angle        string `json:"angle"`
	EmotionStart string `json:"emotion_start"`
	EmotionEnd   string `json:"emotion_end"`
	CallToAction string `json:"call_to_action"`
}

// StyleChoice is the confirmed visual style for the render.
type StyleChoice struct {
	StyleType         string `json:"style_type" validate:"required"`
	Orientation       string `json:"orientation"`
	Resolution        string `json:"resolution"`
	DurationSec       int    `json:"duration_sec" validate:"min=1"`
	CustomDescription string `json:"custom_description"`
}

// Shot is one timed beat of a video script.
type Shot struct {
	Time    string `json:"time"`
	Scene   string `json:"scene"`
	Action  string `json:"action"`
	Audio   string `json:"audio"`
	Emotion string `json:"emotion"`
}

// Script is one script candidate; the scripting stage produces several and
// exactly one is confirmed.
type Script struct {
	Title    string `json:"title"`
	Language string `json:"language"`
	Shots    []Shot `json:"shots" validate:"min=1"`
}

// RenderedVideo is the terminal artifact attached when the render completes.
type RenderedVideo struct {
	VideoURL     string `json:"video_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Artifacts holds the confirmed, immutable outputs of completed stages.
// A field is nil until its stage has been confirmed; the fixed field order
// mirrors the stage order.
type Artifacts struct {
	Upload   *Upload               `json:"upload,omitempty"`
	Product  *ProductUnderstanding `json:"product,omitempty"`
	Market   *MarketAnalysis       `json:"market,omitempty"`
	Strategy *CreativeStrategy     `json:"strategy,omitempty"`
	Style    *StyleChoice          `json:"style,omitempty"`
	Script   *Script               `json:"script,omitempty"`
	Video    *RenderedVideo        `json:"video,omitempty"`
}

// Draft is the editable, not-yet-confirmed candidate for the current stage.
// Exactly one field group is populated, matching the stage; the scripting
// stage carries multiple candidates.
type Draft struct {
	Upload   *Upload               `json:"upload,omitempty"`
	Product  *ProductUnderstanding `json:"product,omitempty"`
	Market   *MarketAnalysis       `json:"market,omitempty"`
	Strategy *CreativeStrategy     `json:"strategy,omitempty"`
	Style    *StyleChoice          `json:"style,omitempty"`
	Scripts  []Script              `json:"scripts,omitempty"`
}

// clone returns a deep copy via JSON round-trip. Draft and artifact types
// are plain data, so this is safe and keeps the copy code in one place.
func (d *Draft) clone() *Draft {
	if d == nil {
		return nil
	}
	var out Draft
	b, _ := json.Marshal(d)
	_ = json.Unmarshal(b, &out)
	return &out
}

func (a Artifacts) clone() Artifacts {
	var out Artifacts
	b, _ := json.Marshal(a)
	_ = json.Unmarshal(b, &out)
	return out
}

// mergePatch overlays patch keys onto current field-by-field. Unknown keys
// are ignored by the JSON round-trip; mismatched value shapes surface as
// an error. A nil patch value clears the field.
func mergePatch[T any](current *T, patch map[string]any) (*T, error) {
	base := make(map[string]any)
	if current != nil {
		b, err := json.Marshal(current)
		if err != nil {
			return nil, fmt.Errorf("encode draft: %w", err)
		}
		if err := json.Unmarshal(b, &base); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
	}

	for k, v := range patch {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}

	var out T
	dec := json.NewDecoder(bytes.NewReader(merged))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedPatch, err)
	}
	return &out, nil
}
