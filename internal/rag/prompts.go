package rag

import (
	"fmt"
	"strings"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/vectorstore"
)

// NoInformationAnswer is returned when retrieval finds nothing relevant.
// The generation capability is never invoked in that case.
const NoInformationAnswer = "No relevant information was found in the indexed study material for this question. Try rephrasing it or check that the relevant resources have been indexed."

const querySystemPrompt = `You are a study assistant that answers strictly from the provided source excerpts.
Rules:
- Use ONLY the numbered sources below. Do not use outside knowledge.
- Cite every claim with its source label, e.g. [Source 2].
- If the sources do not contain enough information to answer, say so explicitly instead of guessing.`

// buildGroundingPrompt enumerates the matched chunks as labeled sources
// followed by the user's question.
func buildGroundingPrompt(query string, matches []vectorstore.Match) string {
	var sb strings.Builder

	sb.WriteString("Sources:\n\n")
	for i, m := range matches {
		fmt.Fprintf(&sb, "[Source %d]", i+1)
		if m.Metadata.ResourceTitle != "" {
			fmt.Fprintf(&sb, " (%s)", m.Metadata.ResourceTitle)
		}
		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

const summarySystemPrompt = `You are a study assistant that produces structured academic summaries.
Respond with a single JSON object and nothing else, using exactly these keys:
{
  "theoreticalContext": string,
  "keyIdeas": [string],
  "definitions": [{"term": string, "definition": string}],
  "examples": [string],
  "commonMistakes": [string],
  "checklist": [string],
  "references": [string]
}
Do not wrap the JSON in markdown fences or add commentary.`

// buildSummaryPrompt asks for a structured summary of the resource text.
func buildSummaryPrompt(title, text string) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following study material")
	if title != "" {
		fmt.Fprintf(&sb, " (titled %q)", title)
	}
	sb.WriteString(" as a structured academic summary.\n\nMaterial:\n")
	sb.WriteString(text)
	return sb.String()
}
