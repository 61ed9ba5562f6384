package command

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

var defaultCommands = []string{"/recipe", "/test-recipe", "@recipebot recipe"}

func TestExtractText_ADF(t *testing.T) {
	raw := `{
		"type": "doc",
		"version": 1,
		"content": [
			{"type": "paragraph", "content": [
				{"type": "mention", "attrs": {"id": "1", "text": "@recipebot"}},
				{"type": "text", "text": " recipe focus=checkout"}
			]},
			{"type": "paragraph", "content": [
				{"type": "text", "text": "line one"},
				{"type": "hardBreak"},
				{"type": "text", "text": "line two"}
			]}
		]
	}`

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	want := "@recipebot recipe focus=checkout\nline one\nline two"
	assert.Equal(t, want, ExtractText(doc))
	assert.Equal(t, want, ExtractText(json.RawMessage(raw)))
	assert.Equal(t, want, ExtractText(raw))
}

func TestExtractText_Passthrough(t *testing.T) {
	assert.Equal(t, "/recipe full", ExtractText("/recipe full"))
	assert.Equal(t, "{not json", ExtractText("{not json"))
	assert.Equal(t, "", ExtractText(nil))
	assert.Equal(t, "", ExtractText(42))
}

func TestParser_Parse(t *testing.T) {
	p := NewParser(defaultCommands)

	tests := []struct {
		name    string
		text    string
		ok      bool
		command string
		flags   map[string]bool
		params  map[string]string
	}{
		{name: "plain", text: "/recipe", ok: true, command: "/recipe", flags: map[string]bool{}, params: map[string]string{}},
		{name: "case and whitespace", text: "  /RECIPE full  ", ok: true, command: "/recipe",
			flags: map[string]bool{FlagFull: true}, params: map[string]string{}},
		{name: "longer command", text: "/test-recipe files --dry-run", ok: true, command: "/test-recipe",
			flags: map[string]bool{FlagFiles: true, FlagDryRun: true}, params: map[string]string{}},
		{name: "mention form", text: "@RecipeBot recipe focus=\"login flow\" max=5", ok: true, command: "@recipebot recipe",
			flags: map[string]bool{}, params: map[string]string{ParamFocus: "login flow", ParamMax: "5"}},
		{name: "first param wins", text: "/recipe focus=a focus=b", ok: true, command: "/recipe",
			flags: map[string]bool{}, params: map[string]string{ParamFocus: "a"}},
		{name: "flag needs word boundary", text: "/recipe fully", ok: true, command: "/recipe",
			flags: map[string]bool{}, params: map[string]string{}},
		{name: "prefix of longer word", text: "/recipes please", ok: false},
		{name: "not at start", text: "please /recipe", ok: false},
		{name: "unrelated", text: "LGTM", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger, ok := p.Parse(tt.text)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.command, trigger.Command)
			assert.Equal(t, tt.flags, trigger.Flags)
			assert.Equal(t, tt.params, trigger.Params)
		})
	}
}

func TestLoopGuard_Check(t *testing.T) {
	g := NewLoopGuard("recipebot", "Generated by RecipeBot")

	assert.ErrorIs(t, g.Check(coreprocessor.Author{Login: "ci", IsBot: true}, "/recipe"), ErrBotAuthor)
	assert.ErrorIs(t, g.Check(coreprocessor.Author{Login: "recipebot[bot]"}, "/recipe"), ErrBrandAuthor)
	assert.ErrorIs(t, g.Check(coreprocessor.Author{Login: "x", DisplayName: "The RecipeBot"}, "/recipe"), ErrBrandAuthor)
	assert.ErrorIs(t, g.Check(coreprocessor.Author{Login: "alice"}, "/recipe\n_generated by recipebot_"), ErrOwnComment)
	assert.NoError(t, g.Check(coreprocessor.Author{Login: "alice"}, "/recipe"))
}

func TestDetector_Detect(t *testing.T) {
	d := NewDetector(defaultCommands, "recipebot", "Generated by RecipeBot")

	trigger, reason := d.Detect(coreprocessor.TriggerEvent{
		Author: coreprocessor.Author{Login: "alice"},
		Body:   "/recipe full",
	})
	assert.Equal(t, SkipNone, reason)
	assert.True(t, trigger.Flag(FlagFull))

	_, reason = d.Detect(coreprocessor.TriggerEvent{Author: coreprocessor.Author{Login: "alice"}, Body: "nice work"})
	assert.Equal(t, SkipNoCommand, reason)

	_, reason = d.Detect(coreprocessor.TriggerEvent{Author: coreprocessor.Author{Login: "alice"}, Body: "   "})
	assert.Equal(t, SkipEmpty, reason)

	_, reason = d.Detect(coreprocessor.TriggerEvent{Author: coreprocessor.Author{Login: "bot", IsBot: true}, Body: "/recipe"})
	assert.Equal(t, SkipBotAuthor, reason)
}

// The product's own replies quote the command; they must never trigger again,
// however many rounds of posting happen.
func TestDetector_OwnRepliesNeverRetrigger(t *testing.T) {
	d := NewDetector(defaultCommands, "recipebot", "Generated by RecipeBot")

	body := "/recipe"
	triggers := 0
	for round := 0; round < 25; round++ {
		author := coreprocessor.Author{Login: "alice"}
		if round > 0 {
			author = coreprocessor.Author{Login: "recipebot-app", DisplayName: "RecipeBot"}
		}
		if _, reason := d.Detect(coreprocessor.TriggerEvent{Author: author, Body: body}); reason == SkipNone {
			triggers++
		}
		body = fmt.Sprintf("/recipe requested by alice\n\nround %d\n\n_Generated by RecipeBot_", round)
	}
	assert.Equal(t, 1, triggers)

	// Same text reposted under a human-looking account is still caught by the signature.
	_, reason := d.Detect(coreprocessor.TriggerEvent{Author: coreprocessor.Author{Login: "alice"}, Body: body})
	assert.Equal(t, SkipOwnComment, reason)
}
