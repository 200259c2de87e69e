package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"loom/internal/services"
)

// SearchVariants expands plan keywords into search queries ordered from
// most to least specific: the full phrase, then each keyword alone, then
// adjacent pairs. Duplicates are dropped while preserving order.
func SearchVariants(keywords []string) []string {
	trimmed := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		trimmed = append(trimmed, kw)
	}
	if len(trimmed) == 0 {
		return nil
	}

	candidates := []string{strings.Join(trimmed, " ")}
	if len(trimmed) > 1 {
		candidates = append(candidates, trimmed...)
	}
	if len(trimmed) > 2 {
		for i := 0; i+1 < len(trimmed); i++ {
			candidates = append(candidates, trimmed[i]+" "+trimmed[i+1])
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	variants := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		variants = append(variants, candidate)
	}
	return variants
}

// Score rates a listing against the plan keywords. Keyword hits in the ref
// dominate; popularity and a size sweet spot break ties.
func Score(listing Listing, keywords []string) int {
	score := 0
	refLower := strings.ToLower(listing.Ref)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(refLower, kw) {
			score += 100
		}
	}

	switch {
	case listing.Downloads > 1000:
		score += 50
	case listing.Downloads > 100:
		score += 25
	case listing.Downloads > 10:
		score += 10
	}

	sizeGB := listing.SizeGB()
	switch {
	case sizeGB >= 1 && sizeGB <= 10:
		score += 30
	case sizeGB >= 0.1 && sizeGB < 1:
		score += 15
	case sizeGB > 10:
		score += 5
	}
	return score
}

// SelectBest filters out listings with unknown size or above the size cap,
// then returns the highest scoring survivor. Ties keep the catalog's own
// popularity order.
func SelectBest(listings []Listing, keywords []string, maxSizeGB float64) (Listing, bool) {
	usable := make([]Listing, 0, len(listings))
	for _, listing := range listings {
		sizeGB := listing.SizeGB()
		if sizeGB <= 0 || sizeGB > maxSizeGB {
			continue
		}
		usable = append(usable, listing)
	}
	if len(usable) == 0 {
		return Listing{}, false
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return Score(usable[i], keywords) > Score(usable[j], keywords)
	})
	return usable[0], true
}

// FindBest runs the search variants in order and picks the best candidate
// from the first variant that returns any listings. If that batch is then
// filtered down to nothing the run fails rather than trying broader
// queries, since a broader match would score worse anyway.
func (c *Client) FindBest(ctx context.Context, keywords []string, maxSizeGB float64) (Listing, error) {
	variants := SearchVariants(keywords)
	if len(variants) == 0 {
		return Listing{}, services.Wrap(services.ErrValidation, "catalog", "select", "no search keywords provided", nil)
	}

	var listings []Listing
	for _, variant := range variants {
		found, err := c.Search(ctx, variant)
		if err != nil {
			return Listing{}, err
		}
		if len(found) > 0 {
			listings = found
			break
		}
	}

	best, ok := SelectBest(listings, keywords, maxSizeGB)
	if !ok {
		return Listing{}, services.Wrap(services.ErrNotFound, "catalog", "select", fmt.Sprintf("no suitable dataset for keywords %q", strings.Join(keywords, " ")), nil)
	}
	return best, nil
}
