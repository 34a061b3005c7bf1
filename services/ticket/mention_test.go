package ticket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMentions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "single mention",
			content: "please look at this @alice",
			want:    []string{"alice"},
		},
		{
			name:    "multiple mentions keep order",
			content: "@bob then @alice then @bob again",
			want:    []string{"bob", "alice"},
		},
		{
			name:    "punctuation terminates token",
			content: "ping @j.doe, and @ops-team: thanks",
			want:    []string{"j.doe", "ops-team"},
		},
		{
			name:    "bare at sign ignored",
			content: "meet @ noon",
			want:    nil,
		},
		{
			name:    "no mentions",
			content: "nothing to see here",
			want:    nil,
		},
		{
			name:    "email-like text still yields token",
			content: "reach me at alice@example.com",
			want:    []string{"example.com"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ParseMentions(tc.content))
		})
	}
}
