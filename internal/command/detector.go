package command

import (
	"errors"
	"strings"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// SkipReason explains why an event did not produce a trigger. Empty means triggered.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipEmpty       SkipReason = "empty_comment"
	SkipBotAuthor   SkipReason = "bot_author"
	SkipBrandAuthor SkipReason = "brand_author"
	SkipOwnComment  SkipReason = "own_comment"
	SkipNoCommand   SkipReason = "no_command"
)

// Detector combines text extraction, the loop guard and command parsing.
type Detector struct {
	parser *Parser
	guard  *LoopGuard
}

// NewDetector creates a detector.
func NewDetector(commands []string, brandToken, signature string) *Detector {
	return &Detector{
		parser: NewParser(commands),
		guard:  NewLoopGuard(brandToken, signature),
	}
}

// Detect decides whether event is a trigger. The loop guard runs before parsing.
func (d *Detector) Detect(event coreprocessor.TriggerEvent) (coreprocessor.Trigger, SkipReason) {
	text := ExtractText(event.Body)

	if err := d.guard.Check(event.Author, text); err != nil {
		switch {
		case errors.Is(err, ErrBotAuthor):
			return coreprocessor.Trigger{}, SkipBotAuthor
		case errors.Is(err, ErrBrandAuthor):
			return coreprocessor.Trigger{}, SkipBrandAuthor
		default:
			return coreprocessor.Trigger{}, SkipOwnComment
		}
	}

	if strings.TrimSpace(text) == "" {
		return coreprocessor.Trigger{}, SkipEmpty
	}

	trigger, ok := d.parser.Parse(text)
	if !ok {
		return coreprocessor.Trigger{}, SkipNoCommand
	}
	return trigger, SkipNone
}
