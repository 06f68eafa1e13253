package cascade

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentenceBufferStreams(t *testing.T) {
	var b sentenceBuffer

	require.Empty(t, b.Write("The RV400 has a "))
	require.Empty(t, b.Write("range of 150 km."))
	require.Equal(t, []string{"The RV400 has a range of 150 km."}, b.Write(" It charges"))
	require.Equal(t, []string{"It charges in 4.5 hours!"}, b.Write(" in 4.5 hours! "))
	require.Empty(t, b.Write("Want a test ride"))
	require.Equal(t, "Want a test ride", b.Flush())
	require.Equal(t, "", b.Flush())
}

func TestSentenceBufferHoldsTrailingMark(t *testing.T) {
	var b sentenceBuffer

	require.Empty(t, b.Write("Really?"))
	require.Equal(t, []string{"Really?!"}, b.Write("! Yes."))
	require.Equal(t, "Yes.", b.Flush())
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "Hello.", want: []string{"Hello."}},
		{in: "Hi there! How are you? Fine.", want: []string{"Hi there!", "How are you?", "Fine."}},
		{in: "line one\nline two", want: []string{"line one", "line two"}},
		{in: "Version 2.0 is out", want: []string{"Version 2.0 is out"}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, splitSentences(tt.in), tt.in)
	}
}
