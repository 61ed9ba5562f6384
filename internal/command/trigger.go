package command

import (
	"regexp"
	"sort"
	"strings"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// Boolean flags recognized after a command.
const (
	FlagFull   = "full"
	FlagFiles  = "files"
	FlagDryRun = "dry-run"
)

// Key=value parameters recognized after a command.
const (
	ParamFocus = "focus"
	ParamMax   = "max"
)

var (
	booleanFlags = []string{FlagFull, FlagFiles, FlagDryRun}
	paramNames   = []string{ParamFocus, ParamMax}

	flagPatterns  = map[string]*regexp.Regexp{}
	paramPatterns = map[string]*regexp.Regexp{}
)

func init() {
	for _, name := range booleanFlags {
		flagPatterns[name] = regexp.MustCompile(`(?i)(?:^|[\s,])-{0,2}` + regexp.QuoteMeta(name) + `(?:$|[\s,])`)
	}
	for _, name := range paramNames {
		paramPatterns[name] = regexp.MustCompile(`(?i)(?:^|[\s,])-{0,2}` + regexp.QuoteMeta(name) + `=(?:"([^"]*)"|(\S+))`)
	}
}

// Parser matches comment text against a command vocabulary.
type Parser struct {
	commands []string
}

// NewParser builds a parser. Longer commands are tried first.
func NewParser(commands []string) *Parser {
	cmds := make([]string, 0, len(commands))
	for _, c := range commands {
		if c = strings.TrimSpace(c); c != "" {
			cmds = append(cmds, strings.ToLower(c))
		}
	}
	sort.SliceStable(cmds, func(i, j int) bool { return len(cmds[i]) > len(cmds[j]) })
	return &Parser{commands: cmds}
}

// Parse returns the trigger when the trimmed text starts with a known command.
func (p *Parser) Parse(text string) (coreprocessor.Trigger, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	for _, cmd := range p.commands {
		if !strings.HasPrefix(lower, cmd) {
			continue
		}
		rest := trimmed[len(cmd):]
		if rest != "" && !isSpace(rest[0]) {
			continue
		}
		rest = strings.TrimSpace(rest)
		return coreprocessor.Trigger{
			Command: cmd,
			Text:    rest,
			Flags:   parseFlags(rest),
			Params:  parseParams(rest),
		}, true
	}
	return coreprocessor.Trigger{}, false
}

func parseFlags(rest string) map[string]bool {
	flags := map[string]bool{}
	for _, name := range booleanFlags {
		if flagPatterns[name].MatchString(rest) {
			flags[name] = true
		}
	}
	return flags
}

func parseParams(rest string) map[string]string {
	params := map[string]string{}
	for _, name := range paramNames {
		m := paramPatterns[name].FindStringSubmatch(rest)
		if m == nil {
			continue
		}
		if m[1] != "" {
			params[name] = m[1]
		} else {
			params[name] = m[2]
		}
	}
	return params
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
