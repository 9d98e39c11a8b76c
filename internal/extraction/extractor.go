// Package extraction turns raw training transcripts into draft judgment
// fragments. The core contract is content addressability: the fragment's
// source hash and every emitted entry id are deterministic functions of the
// transcript text, so re-running extraction on the same transcript
// reproduces identical output.
package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/onlyreason/judgment/internal/judgment"
)

// Adapter extracts a draft judgment fragment from a training transcript.
type Adapter interface {
	Extract(ctx context.Context, transcript string) (judgment.Fragment, error)
}

// HeuristicExtractor is the rule-based reference extractor. It scans the
// transcript sentence by sentence for indicator phrases and emits patterns,
// constraints, and triggers with stable content-derived ids. An LLM-backed
// adapter can replace it behind the same interface.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates the rule-based extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)

	patternIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)when\s+(?:I|we)\s+see`),
		regexp.MustCompile(`(?i)the\s+pattern\s+(?:is|here\s+is)`),
		regexp.MustCompile(`(?i)(?:I|we)\s+always\s+(?:look\s+for|check)`),
		regexp.MustCompile(`(?i)the\s+key\s+(?:thing|indicator|signal)\s+is`),
		regexp.MustCompile(`(?i)(?:I|we)\s+(?:typically|usually|always)\s+(?:do|handle|approach)`),
	}

	constraintIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)never\s+(?:do|say|send|share|disclose|reveal)`),
		regexp.MustCompile(`(?i)(?:don't|do\s+not)\s+ever`),
		regexp.MustCompile(`(?i)absolutely\s+(?:not|never|forbidden)`),
		regexp.MustCompile(`(?i)(?:this|that)\s+is\s+(?:off\s+limits|forbidden|prohibited)`),
		regexp.MustCompile(`(?i)under\s+no\s+circumstances`),
		regexp.MustCompile(`(?i)(?:must|should)\s+never`),
	}

	triggerIndicators = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:call|contact|escalate\s+to)\s+(?:me|the\s+team|management)`),
		regexp.MustCompile(`(?i)(?:if|when)\s+you(?:'re)?\s+(?:unsure|not\s+sure|uncertain)`),
		regexp.MustCompile(`(?i)(?:stop|pause)\s+and\s+(?:ask|check|verify)`),
		regexp.MustCompile(`(?i)this\s+needs\s+(?:human|manual)\s+(?:review|approval)`),
		regexp.MustCompile(`(?i)(?:flag|alert)\s+(?:me|us|the\s+team)`),
	}
)

// Extract implements Adapter.
func (e *HeuristicExtractor) Extract(ctx context.Context, transcript string) (judgment.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return judgment.Fragment{}, err
	}
	if strings.TrimSpace(transcript) == "" {
		return judgment.Fragment{}, fmt.Errorf("transcript is empty")
	}

	sentences := splitSentences(transcript)

	frag := judgment.Fragment{
		Patterns:          e.extractPatterns(sentences),
		Constraints:       e.extractConstraints(sentences),
		Triggers:          e.extractTriggers(sentences),
		ConfidenceMap:     nil, // confidence calibration needs a richer extractor
		SourceContentHash: ContentHash(transcript),
	}

	return frag, nil
}

func (e *HeuristicExtractor) extractPatterns(sentences []indexedSentence) []judgment.Pattern {
	var patterns []judgment.Pattern
	for _, s := range sentences {
		if !matchesAny(patternIndicators, s.text) {
			continue
		}
		patterns = append(patterns, judgment.Pattern{
			ID:               "pat_" + shortHash(s.text),
			Name:             fmt.Sprintf("Pattern from training (line %d)", s.line),
			Description:      truncateRunes(s.text, 200),
			ResponseGuidance: "",
			Domains:          []string{},
			Confidence:       0.5,
		})
	}
	return patterns
}

func (e *HeuristicExtractor) extractConstraints(sentences []indexedSentence) []judgment.Constraint {
	var constraints []judgment.Constraint
	for _, s := range sentences {
		if !matchesAny(constraintIndicators, s.text) {
			continue
		}
		text := truncateRunes(s.text, 200)
		constraints = append(constraints, judgment.Constraint{
			ID:          "con_" + shortHash(s.text),
			Description: text,
			Rule:        text,
			Category:    "operational",
			Critical:    strings.Contains(strings.ToLower(s.text), "never"),
		})
	}
	return constraints
}

func (e *HeuristicExtractor) extractTriggers(sentences []indexedSentence) []judgment.Trigger {
	var triggers []judgment.Trigger
	for _, s := range sentences {
		if !matchesAny(triggerIndicators, s.text) {
			continue
		}
		triggers = append(triggers, judgment.Trigger{
			ID:          "trg_" + shortHash(s.text),
			Description: truncateRunes(s.text, 200),
			Patterns:    []string{strings.ToLower(truncateRunes(s.text, 100))},
			Action:      "escalate",
			Priority:    5,
		})
	}
	return triggers
}

// indexedSentence pairs a trimmed sentence with its 1-based position in
// the transcript, used for generated pattern names.
type indexedSentence struct {
	line int
	text string
}

func splitSentences(transcript string) []indexedSentence {
	var out []indexedSentence
	for i, raw := range sentenceSplit.Split(transcript, -1) {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		out = append(out, indexedSentence{line: i + 1, text: text})
	}
	return out
}

func matchesAny(indicators []*regexp.Regexp, sentence string) bool {
	for _, re := range indicators {
		if re.MatchString(sentence) {
			return true
		}
	}
	return false
}

// ContentHash returns the 16-hex-character source hash for a transcript.
// Resubmitting an identical transcript yields an identical hash, which is
// how the training pipeline detects no-op re-ingestion.
func ContentHash(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return hex.EncodeToString(sum[:])[:16]
}

// shortHash derives an 8-hex entry id suffix from source text.
func shortHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:8]
}

// truncateRunes limits s to n runes without breaking multi-byte characters.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}

var _ Adapter = (*HeuristicExtractor)(nil)
