package feed

import "testing"

func TestStripSummary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "tags and entities",
			raw:  "<p>I don't necessarily believe in <b>anything</b> permanently.</p>",
			want: "I don't necessarily believe in anything permanently.",
		},
		{
			name: "entity decode",
			raw:  "fish &amp; chips &quot;to go&quot;",
			want: `fish & chips "to go"`,
		},
		{
			name: "whitespace collapse",
			raw:  "  spread \n\n over\t\tlines ",
			want: "spread over lines",
		},
		{
			name: "plain text untouched",
			raw:  "already plain",
			want: "already plain",
		},
		{
			name: "empty",
			raw:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := StripSummary(tt.raw); got != tt.want {
				t.Fatalf("StripSummary(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
