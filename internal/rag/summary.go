package rag

import (
	"encoding/json"
	"strings"
)

// Definition is one term/definition pair in a summary.
type Definition struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// Summary is the structured academic summary of a resource. When the
// generation output fails to parse, TheoreticalContext carries the raw
// model text and every list is empty rather than failing the call.
type Summary struct {
	TheoreticalContext string       `json:"theoreticalContext"`
	KeyIdeas           []string     `json:"keyIdeas"`
	Definitions        []Definition `json:"definitions"`
	Examples           []string     `json:"examples"`
	CommonMistakes     []string     `json:"commonMistakes"`
	Checklist          []string     `json:"checklist"`
	References         []string     `json:"references"`
}

// parseSummary parses the generation output as a strict-JSON summary.
// Markdown fences around the object are tolerated; anything else degrades
// to a skeleton carrying the raw text. The second return reports whether
// the structured parse succeeded.
func parseSummary(raw string) (*Summary, bool) {
	text := strings.TrimSpace(raw)
	text = stripCodeFence(text)

	var s Summary
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return skeletonSummary(raw), false
	}

	if s.KeyIdeas == nil {
		s.KeyIdeas = []string{}
	}
	if s.Definitions == nil {
		s.Definitions = []Definition{}
	}
	if s.Examples == nil {
		s.Examples = []string{}
	}
	if s.CommonMistakes == nil {
		s.CommonMistakes = []string{}
	}
	if s.Checklist == nil {
		s.Checklist = []string{}
	}
	if s.References == nil {
		s.References = []string{}
	}
	return &s, true
}

func skeletonSummary(raw string) *Summary {
	return &Summary{
		TheoreticalContext: strings.TrimSpace(raw),
		KeyIdeas:           []string{},
		Definitions:        []Definition{},
		Examples:           []string{},
		CommonMistakes:     []string{},
		Checklist:          []string{},
		References:         []string{},
	}
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}

	rest := strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:] // drop the language tag line
	}
	rest = strings.TrimSuffix(strings.TrimSpace(rest), "```")
	return strings.TrimSpace(rest)
}
