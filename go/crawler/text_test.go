package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	var cases = []struct {
		name string
		html string
		want string
	}{
		{
			name: "basic",
			html: "<html><body><h1>Title</h1><p>A paragraph.</p></body></html>",
			want: "Title\nA paragraph.",
		},
		{
			name: "script and style dropped",
			html: `<html><head><style>body { color: red }</style>
				<script>var x = "hidden";</script></head>
				<body><p>Visible</p><noscript>fallback</noscript></body></html>`,
			want: "Visible",
		},
		{
			name: "whitespace collapsed",
			html: "<p>  spread \n\t out   words  </p>",
			want: "spread out words",
		},
		{
			name: "inline tags split nodes",
			html: "<p>one <b>two</b> three</p>",
			want: "one\ntwo\nthree",
		},
		{
			name: "empty document",
			html: "",
			want: "",
		},
		{
			name: "nested hidden elements",
			html: "<div><script>if (a < b) { go(); }</script><span>kept</span></div>",
			want: "kept",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExtractText([]byte(tc.html)))
		})
	}
}
