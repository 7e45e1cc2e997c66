package stage

import "github.com/sterlingstarai-ai/ai-story-book/internal/job"

// styleTokens is the fixed style-to-prompt-fragment mapping (spec.md §4.7),
// embedded verbatim in every Stage E prompt for cross-image consistency.
var styleTokens = map[job.Style]string{
	job.StyleWatercolor:  "soft watercolor painting, gentle brush strokes, pastel colors, warm light",
	job.StyleCartoon:     "vibrant cartoon, bold outlines, bright colors, playful",
	job.Style3D:          "3D rendered, Pixar-like, cute proportions, soft lighting",
	job.StylePixel:       "pixel art, 16-bit retro, limited palette",
	job.StyleOilPainting: "oil painting illustration, rich texture, warm tones",
	job.StyleClaymation:  "claymation, stop-motion look, textured clay figures",
}

// StyleToken returns the fixed prompt fragment for a style. Styles absent
// from the source table (spec.md adds `realistic` beyond the original
// lexicon) fall back to a plain descriptive token.
func StyleToken(s job.Style) string {
	if t, ok := styleTokens[s]; ok {
		return t
	}
	return "photorealistic illustration, natural lighting, fine detail"
}

// negativePromptClause is embedded in every Stage E prompt's negative
// prompt (spec.md §4.2 Stage E contract).
const negativePromptClause = "text, watermark, signature, " + safetyBannedVisualLexicon

// safetyBannedVisualLexicon is a placeholder for the externally configured
// visual safety lexicon; kept as a named constant so Stage E's construction
// reads the same whether the list is short or long.
const safetyBannedVisualLexicon = "disturbing imagery, graphic violence, nudity"
