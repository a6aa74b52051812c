package capability

import (
	"strings"
)

// ExpandArgs substitutes {key} placeholders in the argument template with
// values from params. Tokens without a matching parameter are left literally
// in place; callers detect under-substitution post-hoc by inspecting for
// unchanged tokens (see HasUnresolvedTokens).
func ExpandArgs(template []string, params map[string]string) []string {
	expanded := make([]string, len(template))
	for i, arg := range template {
		expanded[i] = expandArg(arg, params)
	}
	return expanded
}

func expandArg(arg string, params map[string]string) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(arg, '{')
		if open < 0 {
			b.WriteString(arg)
			return b.String()
		}
		close := strings.IndexByte(arg[open:], '}')
		if close < 0 {
			b.WriteString(arg)
			return b.String()
		}
		close += open

		key := arg[open+1 : close]
		b.WriteString(arg[:open])
		if val, ok := params[key]; ok {
			b.WriteString(val)
		} else {
			// No matching parameter; pass the token through literally.
			b.WriteString(arg[open : close+1])
		}
		arg = arg[close+1:]
	}
}

// HasUnresolvedTokens reports whether any argument still contains a
// {key}-shaped token after expansion.
func HasUnresolvedTokens(args []string) bool {
	for _, arg := range args {
		open := strings.IndexByte(arg, '{')
		if open >= 0 && strings.IndexByte(arg[open:], '}') > 0 {
			return true
		}
	}
	return false
}
