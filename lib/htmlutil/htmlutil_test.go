package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	table := []struct {
		input    string
		expected string
	}{
		{input: "Room 100", expected: "Room 100"},
		{input: "  \n\tRoom   100 \n", expected: "Room 100"},
		{input: "Open  (5/30)", expected: "Open (5/30)"},
		{input: "a\x00b", expected: "ab"},
		{input: "", expected: ""},
	}

	for _, row := range table {
		require.Equal(t, row.expected, NormalizeText(row.input))
	}
}

func TestFirstText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div><p class="x">  first <b>bold</b> </p><p class="x">second</p></div>`,
	))
	require.NoError(t, err)

	text, ok := FirstText(doc.Find("p.x"))
	require.True(t, ok)
	require.Equal(t, "first bold", text)

	_, ok = FirstText(doc.Find("p.missing"))
	require.False(t, ok)
}
