package mindmap

import (
	"fmt"
	"strings"
)

// Shape is the response format requested from the model.
type Shape string

const (
	ShapeJSON    Shape = "json"
	ShapeBullets Shape = "bullets"
)

// ParseShape converts a request string into a Shape. An empty string selects
// the JSON shape.
func ParseShape(s string) (Shape, error) {
	switch Shape(strings.ToLower(s)) {
	case "", ShapeJSON:
		return ShapeJSON, nil
	case ShapeBullets:
		return ShapeBullets, nil
	default:
		return "", fmt.Errorf("unknown response shape: %s", s)
	}
}

const jsonPrompt = `You build mindmaps. Produce a mindmap for the topic below.

Return a JSON object and nothing else:
- the key "Concept Central" maps to the topic, as a short label;
- every other key is a main concept (at most 3 words) mapping to an array of
  2 to 4 sub-concepts (each at most 3 words).

Use between 4 and 7 main concepts. Write labels in the language of the topic.

EXAMPLE:
{"Concept Central": "Photosynthesis", "Light reactions": ["Chlorophyll", "Water splitting", "ATP"], "Calvin cycle": ["Carbon fixation", "RuBisCO"]}

TOPIC:
%s`

const bulletPrompt = `You build mindmaps. Produce a mindmap for the topic below.

Format rules:
- first line: "Concept central: <topic as a short label>"
- each main concept on its own line starting with "- " (at most 3 words)
- each sub-concept on its own line starting with "* ", directly under its main concept
  (2 to 4 per main concept, at most 3 words each)

Use between 4 and 7 main concepts. No other text. Write labels in the language of the topic.

TOPIC:
%s`

const documentPrompt = `You build mindmaps. Summarize the document below as a mindmap.

Return a JSON object and nothing else:
- the key "Concept Central" maps to the document's main subject, as a short label;
- every other key is a main theme of the document (at most 3 words) mapping to an
  array of 2 to 4 sub-concepts (each at most 3 words).

DOCUMENT:
%s`

// Prompt returns the generation prompt for topic in the requested shape.
func Prompt(topic string, shape Shape) string {
	if shape == ShapeBullets {
		return fmt.Sprintf(bulletPrompt, strings.TrimSpace(topic))
	}
	return fmt.Sprintf(jsonPrompt, strings.TrimSpace(topic))
}

// DocumentPrompt returns the prompt that turns document text into a JSON
// outline.
func DocumentPrompt(text string) string {
	return fmt.Sprintf(documentPrompt, text)
}
