package command

import (
	"errors"
	"strings"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

var (
	ErrBotAuthor   = errors.New("comment author is a bot")
	ErrBrandAuthor = errors.New("comment author carries the product brand")
	ErrOwnComment  = errors.New("comment carries the product signature")
)

// LoopGuard stops the product from reacting to its own comments.
type LoopGuard struct {
	brandToken string
	signature  string
}

// NewLoopGuard creates a guard for the given brand token and signature phrase.
func NewLoopGuard(brandToken, signature string) *LoopGuard {
	return &LoopGuard{
		brandToken: strings.ToLower(strings.TrimSpace(brandToken)),
		signature:  strings.ToLower(strings.TrimSpace(signature)),
	}
}

// Check returns nil when the comment may be processed.
func (g *LoopGuard) Check(author coreprocessor.Author, text string) error {
	if author.IsBot {
		return ErrBotAuthor
	}
	if g.brandToken != "" {
		if strings.Contains(strings.ToLower(author.Login), g.brandToken) ||
			strings.Contains(strings.ToLower(author.DisplayName), g.brandToken) {
			return ErrBrandAuthor
		}
	}
	if g.signature != "" && strings.Contains(strings.ToLower(text), g.signature) {
		return ErrOwnComment
	}
	return nil
}
