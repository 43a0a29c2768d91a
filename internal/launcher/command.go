package launcher

import (
	"fmt"
	"regexp"
	"strings"
)

// Target is a parsed command-style target descriptor. Inline environment
// assignments ("export KEY=value &&" prefixes or bare KEY=value segments)
// are separated from the command itself.
type Target struct {
	Args []string
	Env  map[string]string
}

var (
	exportAssignRe = regexp.MustCompile(`export\s+([A-Z_][A-Z0-9_]*)=([^\s&]+)`)
	bareAssignRe   = regexp.MustCompile(`^([A-Z_][A-Z0-9_]*)=([^\s&]+)$`)
)

// ParseTarget splits a command descriptor such as
//
//	export API_KEY=xyz && npx -y some-mcp-server --flag
//
// into inline environment assignments and the command argv. The last
// "&&"-separated segment is the command; every earlier segment contributes
// environment assignments. Quotes around assignment values are stripped.
func ParseTarget(raw string) (*Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &LaunchError{Command: raw, Err: fmt.Errorf("empty command")}
	}

	env := map[string]string{}
	cmdPart := raw
	if strings.Contains(raw, "&&") {
		segments := strings.Split(raw, "&&")
		cmdPart = strings.TrimSpace(segments[len(segments)-1])
		for _, seg := range segments[:len(segments)-1] {
			for _, m := range exportAssignRe.FindAllStringSubmatch(seg, -1) {
				env[m[1]] = strings.Trim(m[2], `"'`)
			}
			for _, field := range strings.Fields(seg) {
				if m := bareAssignRe.FindStringSubmatch(field); m != nil {
					env[m[1]] = strings.Trim(m[2], `"'`)
				}
			}
		}
	}

	args, err := shellSplit(cmdPart)
	if err != nil {
		return nil, &LaunchError{Command: raw, Err: err}
	}

	// Leading KEY=value tokens in the command itself are also assignments.
	for len(args) > 0 {
		m := bareAssignRe.FindStringSubmatch(args[0])
		if m == nil {
			break
		}
		env[m[1]] = strings.Trim(m[2], `"'`)
		args = args[1:]
	}

	if len(args) == 0 {
		return nil, &LaunchError{Command: raw, Err: fmt.Errorf("no command after environment assignments")}
	}

	return &Target{Args: args, Env: env}, nil
}

// shellSplit tokenizes a command line, honoring single and double quotes and
// backslash escapes outside single quotes. It does not expand variables.
func shellSplit(s string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inToken bool
		quote   rune
	)

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote == '\'':
			if c == '\'' {
				quote = 0
			} else {
				current.WriteRune(c)
			}
		case quote == '"':
			if c == '"' {
				quote = 0
			} else if c == '\\' && i+1 < len(runes) {
				i++
				current.WriteRune(runes[i])
			} else {
				current.WriteRune(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inToken = true
		case c == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			inToken = true
		case c == ' ' || c == '\t' || c == '\n':
			if inToken {
				args = append(args, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(c)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inToken {
		args = append(args, current.String())
	}
	return args, nil
}

// IsCommandTarget reports whether a target descriptor names a command to
// launch rather than a URL to connect to.
func IsCommandTarget(target string) bool {
	t := strings.TrimSpace(target)
	if strings.Contains(t, "&&") {
		parts := strings.Split(t, "&&")
		t = strings.TrimSpace(parts[len(parts)-1])
	}
	return t != "" && !strings.HasPrefix(t, "http://") && !strings.HasPrefix(t, "https://")
}
