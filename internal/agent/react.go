package agent

import (
	"strings"
)

// parsedResponse holds the components extracted from a ReAct-formatted LLM response.
type parsedResponse struct {
	Thought     string
	Action      string
	ActionInput string
	FinalAnswer string
}

var reactMarkers = []struct {
	prefix  string
	section string
}{
	// Action Input must be tried before Action
	{"Action Input:", "action_input"},
	{"Action:", "action"},
	{"Thought:", "thought"},
	{"Final Answer:", "final_answer"},
}

// parseReActResponse extracts Thought, Action, Action Input, and Final Answer
// from a ReAct-formatted LLM response. Markdown emphasis around the markers
// is tolerated. Everything after Final Answer belongs to the answer.
func parseReActResponse(content string) parsedResponse {
	var result parsedResponse
	var current string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if current != "final_answer" {
			if section, rest, ok := matchMarker(trimmed); ok {
				current = section
				result.set(section, rest)
				continue
			}
		}

		switch current {
		case "thought":
			result.Thought += "\n" + trimmed
		case "action_input":
			result.ActionInput += "\n" + trimmed
		case "final_answer":
			result.FinalAnswer += "\n" + line
		}
	}

	result.Thought = strings.TrimSpace(result.Thought)
	result.Action = strings.Trim(strings.TrimSpace(result.Action), "`*\"'")
	result.ActionInput = unquote(strings.TrimSpace(result.ActionInput))
	result.FinalAnswer = strings.TrimSpace(result.FinalAnswer)

	return result
}

func matchMarker(line string) (section, rest string, ok bool) {
	plain := strings.TrimLeft(line, "*#> ")
	for _, m := range reactMarkers {
		if strings.HasPrefix(plain, m.prefix) {
			rest = strings.TrimPrefix(plain, m.prefix)
			rest = strings.TrimLeft(rest, "* ")
			return m.section, rest, true
		}
		// **Action:** style puts the emphasis after the colon
		bold := strings.TrimSuffix(m.prefix, ":") + "**:"
		if strings.HasPrefix(plain, bold) {
			return m.section, strings.TrimSpace(strings.TrimPrefix(plain, bold)), true
		}
	}
	return "", "", false
}

func (p *parsedResponse) set(section, value string) {
	switch section {
	case "thought":
		p.Thought = value
	case "action":
		p.Action = value
	case "action_input":
		p.ActionInput = value
	case "final_answer":
		p.FinalAnswer = value
	}
}

// unquote strips a code fence or a single pair of matching quotes.
func unquote(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.Contains(s[:i], " ") {
			s = s[i+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
