package ticket

import "strings"

func mentionRune(r rune) bool {
	return r == '_' || r == '.' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// ParseMentions extracts the @username tokens from comment content, in order
// of first appearance, without duplicates. Tokens are matched against
// usernames by the caller; unknown tokens are simply ignored there.
func ParseMentions(content string) []string {
	var out []string
	seen := map[string]struct{}{}

	for _, part := range strings.Split(content, "@")[1:] {
		end := 0
		for _, r := range part {
			if !mentionRune(r) {
				break
			}
			end += len(string(r))
		}
		token := part[:end]
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}

	return out
}
