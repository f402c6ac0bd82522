package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscoverLinksFindsBodyAndHTML(t *testing.T) {
	email := &Email{
		Body:     "plain https://one.test/a end",
		HTMLBody: `<a href="https://two.test/b">click</a>`,
	}

	links := DiscoverLinks(email)
	assert.Contains(t, links, "https://one.test/a")
	assert.Contains(t, links, "https://two.test/b")
}

func TestDiscoverLinksKeepsDuplicates(t *testing.T) {
	email := &Email{
		Body: "https://dup.test/x and again https://dup.test/x",
	}

	links := DiscoverLinks(email)
	assert.Len(t, links, 2)
}

func TestDiscoverLinksEmptyEmail(t *testing.T) {
	assert.Empty(t, DiscoverLinks(&Email{Body: "no links at all"}))
}

func TestDiscoverLinkOccurrencesTracksSource(t *testing.T) {
	email := &Email{
		Body:     "see https://shared.test/x",
		HTMLBody: `<a href="https://shared.test/x">see</a>`,
	}

	occs := DiscoverLinkOccurrences(email)
	assert.Equal(t, []LinkOccurrence{
		{URL: "https://shared.test/x"},
		{URL: "https://shared.test/x", InHTML: true},
	}, occs)
}
