package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	llmclient "respec/internal/llmClient"
	"respec/internal/specgraph"
)

const geminiDefaultConfidence = 0.7

const extractPrompt = `You map a customer's hardware requirements onto catalog specifications.
Return JSON: {"candidates":[{"spec_id":"...","value":"...","confidence":0.0-1.0,"original_request":"...","substitution_note":"..."}]}
Rules:
- Only use spec_id values that appear in [INPUT JSON].catalog.
- original_request quotes the phrase of the text that motivated the candidate.
- When the text asks for something the catalog lacks, pick the closest option and explain it in substitution_note.
- At most one candidate per field unless the field is multi_choice.
- If nothing matches, return {"candidates":[]}.`

type catalogOption struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Field     string `json:"field"`
	Section   string `json:"section"`
	Selection string `json:"selection_type"`
	Value     string `json:"value,omitempty"`
}

type geminiInput struct {
	Text    string          `json:"text"`
	Catalog []catalogOption `json:"catalog"`
}

type geminiOutput struct {
	Candidates []Candidate `json:"candidates"`
}

// Gemini asks an LLM to map text onto catalog ids. Ids the catalog does not
// know are dropped.
type Gemini struct {
	llm   llmclient.JSONClient
	graph specgraph.Graph
}

func NewGemini(llm llmclient.JSONClient, g specgraph.Graph) *Gemini {
	return &Gemini{llm: llm, graph: g}
}

func (e *Gemini) Extract(ctx context.Context, text string) ([]Candidate, error) {
	if e == nil || e.llm == nil {
		return nil, fmt.Errorf("extract: llm client is nil")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	in := geminiInput{Text: text}
	for _, f := range e.graph.Fields() {
		for _, s := range e.graph.SpecificationsForField(f.FieldName) {
			in.Catalog = append(in.Catalog, catalogOption{
				ID:        s.ID,
				Name:      s.Name,
				Field:     f.FieldName,
				Section:   f.Section,
				Selection: string(f.SelectionType),
				Value:     s.SelectedValue,
			})
		}
	}

	raw, err := e.llm.GenerateJSON(ctx, extractPrompt, in)
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w", e.llm.Name(), err)
	}
	var out geminiOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("extract: %w: %v", llmclient.ErrInvalidJSON, err)
	}
	kept := make([]Candidate, 0, len(out.Candidates))
	for _, c := range out.Candidates {
		if _, ok := e.graph.Specification(c.SpecID); !ok {
			log.Printf("extract: dropping unknown specification %q from %s", c.SpecID, e.llm.Name())
			continue
		}
		kept = append(kept, c)
	}
	return normalize(kept, geminiDefaultConfidence), nil
}
