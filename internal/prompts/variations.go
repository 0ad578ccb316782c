package prompts

import "fmt"

// Variation steers one prompt of a set so keyframes differ while staying in
// the same world.
type Variation struct {
	Instruction string
	Suffix      string
}

// Variations are cycled by prompt index.
var Variations = []Variation{
	{
		"Focus on dramatic lighting, atmosphere, and mood. Keep the same time period/era as the user's scene (no mixing primitive and modern).",
		"dramatic cinematic lighting, atmospheric, volumetric fog, moody, same era",
	},
	{
		"Focus on intricate textures, material details. Maintain era consistency: buildings and people must belong to one coherent time period.",
		"intricate details, highly textured, 8k resolution, coherent era, no anachronism",
	},
	{
		"Focus on dynamic composition, depth of field. Same world and era throughout, no cavemen with modern cities or vice versa.",
		"dynamic angle, depth of field, rule of thirds, consistent time period",
	},
	{
		"Focus on vibrant color theory, contrast. Keep clothing, architecture, and props from a single era.",
		"vibrant colors, high contrast, color graded, single era throughout",
	},
	{
		"Focus on environmental storytelling. Ensure architecture and people match the same historical or modern setting.",
		"detailed background, environmental storytelling, same era and world",
	},
	{
		"Focus on artistic interpretation and style. One consistent time period for the whole video.",
		"artistic interpretation, masterpiece, award winning, era consistent",
	},
}

// StyleKeywords expand a style name in local prompts.
var StyleKeywords = map[string]string{
	"Photorealistic": "cinematic film still, hyper-realistic, 8k resolution, ray tracing, highly detailed texture, atmospheric lighting, Arri Alexa, bokeh",
	"Cyberpunk":      "futuristic neon city, cybernetic details, high tech, night time, volumetric fog, blade runner style, vibrant neon colors",
	"Anime":          "Makoto Shinkai style, Studio Ghibli, high quality anime art, vibrant colors, detailed background, beautiful composition, 4k",
	"Watercolor":     "masterpiece watercolor painting, soft bleeding edges, artistic paper texture, dreamy atmosphere, elegant brushwork",
	"Oil Painting":   "classic oil painting on canvas, impasto brush strokes, rich colors, texture, impressionist masterpiece, dramatic lighting",
	"3D Render":      "Unreal Engine 5 render, Octane render, C4D, hyper detailed, subsurface scattering, global illumination, 3D masterpiece",
	"Pixel Art":      "high quality pixel art, 16-bit, detailed sprites, retro aesthetic, vibrant palette, game asset style",
	"Minimalist":     "clean minimalist design, flat colors, simple geometric shapes, vector art, high contrast, elegant composition",
}

// ViewKeywords expand a camera distance in local prompts.
var ViewKeywords = map[string]string{
	"Close-up":  "extreme close-up shot, macro details, focus on facial features and texture, shallow depth of field",
	"Wide Shot": "wide angle establishing shot, epic scale, detailed environment, vast landscape, cinematic composition",
	"Default":   "cinematic medium shot, perfectly framed, balanced composition, movie keyframe",
}

// Styles and Views list the selectable names in display order.
var (
	Styles = []string{"Photorealistic", "Cyberpunk", "Anime", "Watercolor", "Oil Painting", "3D Render", "Pixel Art", "Minimalist"}
	Views  = []string{"Default", "Close-up", "Wide Shot"}
)

const (
	eraNote = "consistent time period and era, no anachronism, same world and story."
	noText  = "no text, no words, no letters, no writing, no captions in the image."
)

// Fallback builds a prompt locally from the keyword tables
func Fallback(input, style, view, suffix string) string {
	extra, ok := StyleKeywords[style]
	if !ok {
		extra = "highly detailed, cinematic quality, masterpiece, 8k"
	}
	viewDesc, ok := ViewKeywords[view]
	if !ok {
		viewDesc = "cinematic shot"
	}
	return fmt.Sprintf("(Masterpiece, top quality) %s of %s. %s %s. %s, dramatic lighting, trending on ArtStation, vivid details, sharp focus. %s",
		viewDesc, input, eraNote, suffix, extra, noText)
}

func systemPrompt(input, style, view, instruction string) string {
	return fmt.Sprintf(`You are an expert Film Concept Artist.
Task: Write ONE highly detailed, cinematic image generation prompt based on the user's input.

The prompt will be used to generate a keyframe for a VIDEO. All keyframes must feel like the same story and world.
AVOID simple or short descriptions.

User Input: %q
Target Style: %q
Camera Distance: %q
Specific Focus: %q

Requirements:
1. Start with the main subject and action.
2. Describe the environment and background in detail.
3. Strictly enforce the %q aesthetic (lighting, color palette, texture).
4. Enforce the %q composition.
5. Add quality boosters: "8k", "cinematic lighting", "masterpiece".
6. Choose ONE time period/era for buildings, clothing and props. No anachronism.
7. Include people only when the input tells a story or involves characters; otherwise describe scenery.
8. The image must contain NO text, words, letters, captions, subtitles or readable signage.
9. Output ONLY the English prompt, around 50-80 words.`, input, style, view, instruction, style, view)
}

func titlePrompt(input string) string {
	return fmt.Sprintf(`Give a short title for the following narration, in the narration's language, at most 12 characters.
Output ONLY the title, no quotes or punctuation.

Narration:
%s`, input)
}
