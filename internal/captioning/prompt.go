package captioning

import "fmt"

const systemPrompt = `You are an expert image tagger preparing captions for text-to-image model training datasets. You describe images as concise, comma-separated tags and never add commentary.`

const captionGuidelines = `Guidelines:
- Output a single line of comma-separated tags, most important first.
- Start with the main subject (people, animals, objects), then their attributes (clothing, colors, expressions, pose).
- Follow with the setting, background and lighting.
- Finish with the medium and style (photograph, illustration, 3d render, painting) and composition (close-up, full body, wide shot).
- Use lowercase English words; no sentences, numbering, quotes or trailing period.
- Do not guess names of real people or mention the image file.`

// BuildPrompt embeds the image format and dimensions into the fixed captioning prompt
func BuildPrompt(info ImageInfo) string {
	return fmt.Sprintf(`Create a caption for this image.

Image details:
- Format: %s
- Dimensions: %dx%d pixels

%s`, info.Format, info.Width, info.Height, captionGuidelines)
}
