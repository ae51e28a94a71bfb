package render

import "testing"

func TestCleanOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "preamble removed",
			in:   "Sure, here is your document.\nThe body starts here.",
			want: "The body starts here.",
		},
		{
			name: "markdown headings converted",
			in:   "# project overview\n## Goals\n### Scope:\nText",
			want: "PROJECT OVERVIEW\nGoals:\nScope:\nText",
		},
		{
			name: "emphasis and code stripped",
			in:   "Use **bold**, __strong__, *soft* and `code` with [a link](https://x.test).",
			want: "Use bold, strong, soft and code with a link.",
		},
		{
			name: "bullets survive italics pass",
			in:   "* first item\n* second item",
			want: "* first item\n* second item",
		},
		{
			name: "fences and rules removed",
			in:   "Intro\n```go\nfmt.Println()\n```\n---\nOutro",
			want: "Intro\n\nOutro",
		},
		{
			name: "html tags stripped and entities kept readable",
			in:   "<p>Fish &amp; chips</p><script>x()</script> cost <b>5</b>",
			want: "Fish & chips cost 5",
		},
		{
			name: "comparison signs untouched",
			in:   "a < b and c > d",
			want: "a < b and c > d",
		},
		{
			name: "blank runs collapsed",
			in:   "one\n\n\n\n\ntwo   three",
			want: "one\n\ntwo three",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanOutput(tc.in); got != tc.want {
				t.Fatalf("CleanOutput() = %q, want %q", got, tc.want)
			}
		})
	}
}
