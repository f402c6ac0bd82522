package core

import (
	"regexp"
)

// urlPattern is a permissive scan for http(s) URLs in text or HTML
// bodies. Being permissive is deliberate: rewriting an extra candidate
// is cheap, missing one defeats interaction-time re-analysis.
var urlPattern = regexp.MustCompile(`https?://[^\s"'<>\)\]]+`)

// LinkOccurrence is a single URL occurrence together with the body it
// was found in, so a rewriter can replace it in that body only.
type LinkOccurrence struct {
	URL    string
	InHTML bool
}

// DiscoverLinkOccurrences returns every URL occurrence found in the
// email's text and HTML bodies, text occurrences first. Duplicates are
// preserved so each occurrence keeps its own click analytics after
// rewriting.
func DiscoverLinkOccurrences(email *Email) []LinkOccurrence {
	var occs []LinkOccurrence
	for _, u := range urlPattern.FindAllString(email.Body, -1) {
		occs = append(occs, LinkOccurrence{URL: u})
	}
	if email.HTMLBody != "" {
		for _, u := range urlPattern.FindAllString(email.HTMLBody, -1) {
			occs = append(occs, LinkOccurrence{URL: u, InHTML: true})
		}
	}
	return occs
}

// DiscoverLinks returns the URLs of every occurrence in both bodies.
func DiscoverLinks(email *Email) []string {
	occs := DiscoverLinkOccurrences(email)
	links := make([]string, len(occs))
	for i, occ := range occs {
		links[i] = occ.URL
	}
	return links
}
