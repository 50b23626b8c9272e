package synth

import (
	"fmt"
	"math/rand"
)

// Prompt vocabulary for PFP generation, one pick per category.
var (
	characterBases = []string{
		"head and shoulders portrait of a realistic human",
		"head and shoulders portrait of an anime character",
		"head and shoulders portrait in detailed pixel art",
		"head and shoulders abstract geometric avatar",
		"head and shoulders portrait of a cyberpunk character",
		"head and shoulders portrait of a mystical fantasy being",
		"head and shoulders portrait of an anthropomorphic animal",
	}
	artStyles = []string{
		"neo-tokyo futuristic style, clean sharp details",
		"vaporwave aesthetic with bold contrasts",
		"retro pixel art with crisp edges",
		"detailed digital painting style",
		"clean minimalist design with bold features",
		"high-tech cyberpunk with neon accents",
		"matrix digital style with code elements",
		"artistic glitch effects around edges",
	}
	personalities = []string{
		"mysterious expression with raised eyebrow",
		"confident three-quarter view pose",
		"playful smirk and tilted head",
		"serious side profile view",
		"ethereal front-facing pose",
		"powerful slight upward angle",
		"eccentric expression with unique features",
		"peaceful forward-facing composition",
	}
	visualElements = []string{
		"vibrant energy aura behind head",
		"patterned background with character centered",
		"dramatic rim lighting on face",
		"floating particles around head area",
		"geometric shapes framing portrait",
		"holographic overlay effects",
		"tech interface elements in background",
		"organic elements framing portrait",
	}
	colorSchemes = []string{
		"vibrant neon accents on dark background",
		"soft pastel tones with subtle gradients",
		"high contrast monochromatic palette",
		"cyberpunk neons with deep shadows",
		"iridescent colors with light bloom",
		"rich natural tones with warm highlights",
		"luxurious royal colors with metallic accents",
		"retro color palette with muted tones",
	}
)

const legendaryTreatment = "radiant golden aura, ornate legendary treatment, prize-winning crown details"

// PromptBuilder assembles an image prompt from the category vocabulary.
// The random source is injectable so tests are deterministic.
type PromptBuilder struct {
	rng *rand.Rand
}

// NewPromptBuilder builds prompts using the given source. Pass nil for a
// time-seeded default.
func NewPromptBuilder(rng *rand.Rand) *PromptBuilder {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &PromptBuilder{rng: rng}
}

// Build returns one prompt. Legendary outcomes get the golden treatment
// appended so the rare result is visually distinct.
func (b *PromptBuilder) Build(legendary bool) string {
	prompt := fmt.Sprintf(
		"Create a profile picture in NFT style: %s, %s, %s, %s, %s. Centered composition, high detail, perfect for PFP. Subject fills 70%% of frame, clean background, professional lighting.",
		pick(b.rng, characterBases),
		pick(b.rng, artStyles),
		pick(b.rng, personalities),
		pick(b.rng, visualElements),
		pick(b.rng, colorSchemes),
	)
	if legendary {
		prompt += " " + legendaryTreatment
	}
	return prompt
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.Intn(len(values))]
}
