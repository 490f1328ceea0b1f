// Package generation drafts documents through external text-generation
// providers, with a refinement pass and bounded retries on the primary.
package generation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"draftreview/internal/model"
)

// Prompt is the structured drafting request built from case data.
type Prompt struct {
	DocumentType string   `json:"document_type"`
	Instructions string   `json:"instructions"`
	CaseFacts    string   `json:"case_facts,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
	Language     string   `json:"language,omitempty"`
}

// Validate rejects prompts with no drafting content.
func (p Prompt) Validate() error {
	if strings.TrimSpace(p.Instructions) == "" && strings.TrimSpace(p.CaseFacts) == "" {
		return fmt.Errorf("prompt has no instructions or case facts: %w", model.ErrInvalidPrompt)
	}
	return nil
}

// Render flattens the prompt into the user message sent to providers.
func (p Prompt) Render() string {
	var b strings.Builder
	if p.DocumentType != "" {
		fmt.Fprintf(&b, "Document type: %s\n", p.DocumentType)
	}
	if p.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", p.Language)
	}
	if p.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", p.Tone)
	}
	if facts := strings.TrimSpace(p.CaseFacts); facts != "" {
		fmt.Fprintf(&b, "\nCase facts:\n%s\n", facts)
	}
	if len(p.Constraints) > 0 {
		b.WriteString("\nConstraints:\n")
		for _, c := range p.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if instr := strings.TrimSpace(p.Instructions); instr != "" {
		fmt.Fprintf(&b, "\n%s\n", instr)
	}
	return b.String()
}

// Fingerprint is a stable hash of the prompt, used to correlate usage records
// with the task that was drafted from it.
func (p Prompt) Fingerprint() string {
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

const draftSystemPrompt = "You are a legal drafting assistant. Produce a complete, well-structured draft of the requested document. Do not add commentary outside the document."

const refineSystemPrompt = "You are a senior legal editor. Improve clarity, consistency and legal precision of the draft you are given while preserving its structure and all substantive terms. Return only the revised document."

func refineMessage(p Prompt, draft string) string {
	return p.Render() + "\n---\nDraft to revise:\n" + draft
}
