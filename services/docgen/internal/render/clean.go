package render

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	preambles = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^(okay|sure|of course|certainly|here('s| is| are)|i('ll| will| can| have)|let me)[^.\n]*[.:!][ \t]*`),
		regexp.MustCompile(`(?im)^based on (the|your)[^.\n]*[.:!][ \t]*`),
		regexp.MustCompile(`(?im)^this (document|report|summary)[^.\n]*[.:!][ \t]*`),
		regexp.MustCompile(`(?m)^[ \t]*(-{3,}|\*{3,}|_{3,})[ \t]*$`),
	}
	codeFence     = regexp.MustCompile("(?s)```.*?```")
	h3Section     = regexp.MustCompile(`(?m)^###[ \t]+(.+?):[ \t]*$`)
	h2Section     = regexp.MustCompile(`(?m)^##[ \t]+(.+?):?[ \t]*$`)
	h1Major       = regexp.MustCompile(`(?m)^#[ \t]+([^\n:]+?)[ \t]*$`)
	anyHeading    = regexp.MustCompile(`(?m)^#{1,6}[ \t]*`)
	boldStars     = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)
	boldUnder     = regexp.MustCompile(`__([^_\n]+)__`)
	italicStar    = regexp.MustCompile(`(^|[^*\w])\*([^*\s][^*\n]*?)\*([^*\w]|$)`)
	italicUnder   = regexp.MustCompile(`(^|[^_\w])_([^_\s][^_\n]*?)_([^_\w]|$)`)
	inlineCode    = regexp.MustCompile("`([^`\n]+)`")
	mdLink        = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	htmlTag       = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^<>]*)?/?>`)
	manyBlank     = regexp.MustCompile(`\n{3,}`)
	innerSpace    = regexp.MustCompile(`[ \t]+`)
	stripHTMLTags = bluemonday.StrictPolicy()
)

// CleanOutput removes chatty preambles, markdown syntax and stray HTML from
// generated text, leaving the plain-text conventions the layout understands.
func CleanOutput(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = codeFence.ReplaceAllString(text, "")
	for _, re := range preambles {
		text = re.ReplaceAllString(text, "")
	}

	text = h3Section.ReplaceAllString(text, "$1:")
	text = h2Section.ReplaceAllString(text, "$1:")
	text = h1Major.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ToUpper(h1Major.FindStringSubmatch(m)[1])
	})
	text = anyHeading.ReplaceAllString(text, "")

	text = boldStars.ReplaceAllString(text, "$1")
	text = boldUnder.ReplaceAllString(text, "$1")
	text = italicStar.ReplaceAllString(text, "$1$2$3")
	text = italicUnder.ReplaceAllString(text, "$1$2$3")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")

	if htmlTag.MatchString(text) {
		text = html.UnescapeString(stripHTMLTags.Sanitize(text))
	}

	text = innerSpace.ReplaceAllString(text, " ")
	text = manyBlank.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
