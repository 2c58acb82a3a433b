// Package textutil processes message content: hashtag and search-term
// extraction for the activity cache, linkification for rendered fragments,
// and the weighted length rule used to validate posts.
package textutil

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	hashtagRe = regexp.MustCompile(`#(\w+)`)
	urlRe     = regexp.MustCompile(`https?://\S+`)
	wordRe    = regexp.MustCompile(`\w+`)
	protoRe   = regexp.MustCompile(`^https?://`)

	// linkifyRe matches either a URL (group 1) or a hashtag (group 2).
	linkifyRe = regexp.MustCompile(`(https?://\S+)|(#\w+)`)
)

// Only conference-relevant links are allowed in messages: venue maps,
// papers, and the conference site itself.
var urlWhitelist = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(www\.)?google\.[a-z]+/maps`),
	regexp.MustCompile(`^https?://maps\.app\.goo\.gl/`),
	regexp.MustCompile(`^https?://(www\.)?arxiv\.org/(abs|pdf)/`),
	regexp.MustCompile(`^https?://(www\.)?openreview\.net/`),
	regexp.MustCompile(`^https?://(www\.)?neurips\.cc/`),
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		the be to of and a in that have i
		it for not on with he as you do at
		this but his by from they we say her
		she or an will my one all would there
		their what so up out if about who get
		which go me when make can like time no
		just him know take people into year your
		good some could them see other than then
		now look only come its over think also
		back after use two how our work first
		well way even new want because any these
		give day most us is are was were has had`) {
		stopWords[w] = struct{}{}
	}
}

// ExtractHashtags returns the unique hashtag names (without the '#') found
// in content, in first-appearance order.
func ExtractHashtags(content string) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, m := range hashtagRe.FindAllStringSubmatch(content, -1) {
		tag := m[1]
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// ExtractTerms returns the unique significant words in content: lowercased,
// longer than two characters, not a stop word, with URLs and hashtags
// stripped first so they never leak into the term index.
func ExtractTerms(content string) []string {
	stripped := linkifyRe.ReplaceAllString(content, "")
	seen := make(map[string]struct{})
	var terms []string
	for _, w := range wordRe.FindAllString(strings.ToLower(stripped), -1) {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// WeightedLength measures content for the 140-character limit. Each URL
// counts as a single character regardless of its actual length.
func WeightedLength(content string) int {
	urls := urlRe.FindAllString(content, -1)
	without := urlRe.ReplaceAllString(content, "")
	return len([]rune(without)) + len(urls)
}

// IsAllowedURL reports whether a URL matches the whitelist.
func IsAllowedURL(url string) bool {
	for _, re := range urlWhitelist {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Linkify replaces URLs with external anchors and hashtags with
// filter-toggle anchors, producing the HTML fragment pushed to clients.
func Linkify(content string) string {
	return linkifyRe.ReplaceAllStringFunc(content, func(match string) string {
		if strings.HasPrefix(match, "#") {
			tag := match[1:]
			return fmt.Sprintf(`<a href="#" onclick="toggleHashtag('%s'); return false;" class="hashtag text-blue-500 hover:underline">%s</a>`, tag, match)
		}
		display := protoRe.ReplaceAllString(match, "")
		if len(display) > 30 {
			display = display[:27] + "..."
		}
		return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener noreferrer" class="text-blue-500 hover:underline" onclick="event.stopPropagation()">%s</a>`, match, display)
	})
}
