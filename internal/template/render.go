// Package template implements the token-substitution renderer and the
// template store contract used by the dispatch path.
package template

import "strings"

// Render replaces every literal occurrence of "{Key}" in content with the
// value for Key in vars. Tokens with no matching key are left verbatim;
// empty values substitute the empty string.
func Render(content string, vars map[string]string) string {
	out := content
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
