package listing

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/media-harvester/internal/crawler"
)

// Selector table for the advanced title search listing.
const (
	ItemSelector      = "li.ipc-metadata-list-summary-item"
	TitleSelector     = "h3.ipc-title__text"
	YearSelector      = "span.dli-title-metadata-item:nth-of-type(1)"
	LinkSelector      = "a.ipc-lockup-overlay"
	RatingSelector    = "span.ipc-rating-star--rating"
	VotesSelector     = "span.ipc-rating-star--voteCount"
	MetascoreSelector = "span.metacritic-score-box"
	SeeMoreSelector   = "button.ipc-see-more__button"
)

var rankPrefix = regexp.MustCompile(`^\d+\.\s+`)

// Parse extracts every listing node from html. Relative links resolve
// against pageURL. Missing fields stay empty; nothing here fails per item.
func Parse(html, pageURL string) ([]crawler.RawListingItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var items []crawler.RawListingItem
	doc.Find(ItemSelector).Each(func(_ int, node *goquery.Selection) {
		detail := absoluteURL(base, attr(node, LinkSelector, "href"))
		items = append(items, crawler.RawListingItem{
			Title:       rankPrefix.ReplaceAllString(text(node, TitleSelector), ""),
			ReleaseYear: text(node, YearSelector),
			DetailURL:   detail,
			GlobalID:    GlobalIDFromURL(detail),
			Rating:      ParseFloat(text(node, RatingSelector)),
			Votes:       ParseVotes(text(node, VotesSelector)),
			Metascore:   ParseFloat(text(node, MetascoreSelector)),
		})
	})
	return items, nil
}

func text(node *goquery.Selection, selector string) string {
	return strings.TrimSpace(node.Find(selector).First().Text())
}

func attr(node *goquery.Selection, selector, name string) string {
	v, _ := node.Find(selector).First().Attr(name)
	return strings.TrimSpace(v)
}

func absoluteURL(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// GlobalIDFromURL returns the second-to-last "/" segment of an absolute
// detail URL such as https://www.imdb.com/title/tt0133093/?ref_=sr_t_1.
func GlobalIDFromURL(detailURL string) string {
	if detailURL == "" {
		return ""
	}
	parts := strings.Split(detailURL, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

var voteCleaner = strings.NewReplacer("(", "", ")", "", ",", "", " ", "", "\u00a0", "")

// ParseVotes turns "1,234", "(2.3K)" or "1.2M" into an integer count.
func ParseVotes(raw string) *int64 {
	s := strings.ToLower(voteCleaner.Replace(raw))
	if s == "" {
		return nil
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1e3
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult = 1e6
		s = strings.TrimSuffix(s, "m")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	v := math.Round(f * mult)
	if v >= math.MaxInt64 {
		return nil
	}
	n := int64(v)
	return &n
}

// ParseFloat parses a rating or score, returning nil on any failure.
func ParseFloat(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
