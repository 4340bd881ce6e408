// Package template holds the named generation presets a merchant can pick.
package template

import "sort"

// Aspect ratios accepted by the generation service
const (
	AspectLandscape = "16:9"
	AspectPortrait  = "9:16"
	AspectSquare    = "1:1"
)

// Template is a named generation preset.
type Template struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration_seconds"`
	AspectRatio     string `json:"aspect_ratio"`
	Thumbnail       string `json:"thumbnail"`
}

var templates = map[string]Template{
	"zoom-pan": {
		ID:              "zoom-pan",
		Name:            "Cinematic Zoom",
		Description:     "Slow cinematic zoom with subtle movement",
		Prompt:          "Slow cinematic zoom on the product, subtle camera movement, professional product photography lighting, clean background",
		DurationSeconds: 4,
		AspectRatio:     AspectLandscape,
		Thumbnail:       "/templates/zoom-pan.jpg",
	},
	"lifestyle": {
		ID:              "lifestyle",
		Name:            "Lifestyle Scene",
		Description:     "Product in a lifestyle context",
		Prompt:          "Product shown in elegant lifestyle setting, natural lighting, gentle ambient movement, aspirational context",
		DurationSeconds: 6,
		AspectRatio:     AspectLandscape,
		Thumbnail:       "/templates/lifestyle.jpg",
	},
	"360-spin": {
		ID:              "360-spin",
		Name:            "360° Spin",
		Description:     "Product rotating 360 degrees",
		Prompt:          "Product smoothly rotating 360 degrees on clean background, professional studio lighting, seamless loop",
		DurationSeconds: 5,
		AspectRatio:     AspectLandscape,
		Thumbnail:       "/templates/360-spin.jpg",
	},
}

// Get returns the template registered under id.
func Get(id string) (Template, bool) {
	t, ok := templates[id]
	return t, ok
}

// All returns every template ordered by id.
func All() []Template {
	out := make([]Template, 0, len(templates))
	for _, t := range templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
