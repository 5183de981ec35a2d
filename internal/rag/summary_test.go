package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/resource"
)

const structuredSummary = `{
	"theoreticalContext": "Cells produce energy through respiration.",
	"keyIdeas": ["ATP is the energy currency"],
	"definitions": [{"term": "ATP", "definition": "adenosine triphosphate"}],
	"examples": ["muscle contraction"],
	"commonMistakes": ["confusing ATP with ADP"],
	"checklist": ["can explain the electron transport chain"],
	"references": ["chapter 9"]
}`

func TestParseSummary(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantParsed bool
	}{
		{"strict json", structuredSummary, true},
		{"fenced json", "```json\n" + structuredSummary + "\n```", true},
		{"bare fence", "```\n" + structuredSummary + "\n```", true},
		{"prose", "Here is a summary of the material: cells produce energy.", false},
		{"truncated json", structuredSummary[:50], false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, parsed := parseSummary(tt.raw)
			require.NotNil(t, s)
			assert.Equal(t, tt.wantParsed, parsed)

			if parsed {
				assert.Equal(t, "Cells produce energy through respiration.", s.TheoreticalContext)
				require.Len(t, s.Definitions, 1)
				assert.Equal(t, "ATP", s.Definitions[0].Term)
			} else {
				// Degraded: raw text in the first field, every list empty
				// but non-nil.
				assert.Equal(t, strings.TrimSpace(tt.raw), s.TheoreticalContext)
				assert.Empty(t, s.KeyIdeas)
				assert.NotNil(t, s.KeyIdeas)
				assert.NotNil(t, s.Definitions)
				assert.NotNil(t, s.Checklist)
			}
		})
	}
}

func TestParseSummary_NilListsBecomeEmpty(t *testing.T) {
	s, parsed := parseSummary(`{"theoreticalContext": "x"}`)
	require.True(t, parsed)
	assert.NotNil(t, s.KeyIdeas)
	assert.NotNil(t, s.Definitions)
	assert.NotNil(t, s.Examples)
	assert.NotNil(t, s.CommonMistakes)
	assert.NotNil(t, s.Checklist)
	assert.NotNil(t, s.References)
}

func TestEngine_Summarize_FromChunks(t *testing.T) {
	ctx := context.Background()
	store := newChromemStore(t)
	resources := newMockResources(&resource.Resource{ID: "res-1", Title: "Cell Biology"})
	gen := &mockGenerator{content: structuredSummary}
	engine := newTestEngine(t, store, gen, resources)

	_, err := engine.Ingest(ctx, "res-1", twoParagraphText(1500))
	require.NoError(t, err)

	summary, err := engine.Summarize(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "Cells produce energy through respiration.", summary.TheoreticalContext)
	assert.Equal(t, []string{"ATP is the energy currency"}, summary.KeyIdeas)

	// The prompt carried stored chunk content, not the description.
	require.NotEmpty(t, gen.prompts)
	assert.Contains(t, strings.ToLower(gen.prompts[len(gen.prompts)-1]), "mitochondria")
}

func TestEngine_Summarize_DescriptionFallback(t *testing.T) {
	resources := newMockResources(&resource.Resource{
		ID:          "res-1",
		Title:       "Unindexed",
		Description: "A short overview of thermodynamics.",
	})
	gen := &mockGenerator{content: structuredSummary}
	engine := newTestEngine(t, newChromemStore(t), gen, resources)

	_, err := engine.Summarize(context.Background(), "res-1")
	require.NoError(t, err)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "A short overview of thermodynamics.")
}

func TestEngine_Summarize_DegradesOnMalformedOutput(t *testing.T) {
	resources := newMockResources(&resource.Resource{
		ID: "res-1", Description: "Some description long enough to summarize.",
	})
	gen := &mockGenerator{content: "Sorry, here is a plain-text summary instead."}
	engine := newTestEngine(t, newChromemStore(t), gen, resources)

	summary, err := engine.Summarize(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, here is a plain-text summary instead.", summary.TheoreticalContext)
	assert.Empty(t, summary.KeyIdeas)
}

func TestEngine_Summarize_NoContent(t *testing.T) {
	resources := newMockResources(&resource.Resource{ID: "res-1"})
	engine := newTestEngine(t, newChromemStore(t), &mockGenerator{}, resources)

	_, err := engine.Summarize(context.Background(), "res-1")
	assert.Error(t, err)
}

func TestEngine_Summarize_NotFound(t *testing.T) {
	engine := newTestEngine(t, newChromemStore(t), &mockGenerator{}, newMockResources())

	_, err := engine.Summarize(context.Background(), "missing")
	assert.ErrorIs(t, err, resource.ErrResourceNotFound)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
