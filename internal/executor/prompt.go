package executor

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	varRe    = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
)

const ifCloseTag = "{{/if}}"

// Vars is a map of variable names to values for prompt rendering.
type Vars map[string]string

// RenderPrompt expands a prompt template with the given variables.
// {{variable}} is replaced with its value; a missing variable is an error.
// {{#if variable}}...{{/if}} blocks are included only when the variable is
// non-empty.
func RenderPrompt(tmpl string, vars Vars) (string, error) {
	result, err := renderConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing prompt variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// renderConditionals resolves {{#if var}}...{{/if}} blocks, innermost first.
func renderConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseTag)
		if closeIdx == -1 {
			break
		}

		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling %s without matching {{#if}}", ifCloseTag)
		}
		last := openLocs[len(openLocs)-1]
		name := ifOpenRe.FindStringSubmatch(prefix[last[0]:last[1]])[1]

		body := prefix[last[1]:]
		replacement := ""
		if vars[name] != "" {
			replacement = body
		}
		result = result[:last[0]] + replacement + result[closeIdx+len(ifCloseTag):]
	}
	if ifOpenRe.MatchString(result) {
		return "", fmt.Errorf("unclosed {{#if}} block")
	}
	return result, nil
}
