// Package feed holds the domain model for pollable sources: the feed
// list parsed from an OPML subscription file, per-feed seen-sets with
// delta computation, and the text helpers applied to entries before
// delivery (summary stripping, redirect-link unwrapping).
package feed

// Feed identifies one pollable source. Immutable once loaded.
type Feed struct {
	URL  string
	Name string
}

// Item is a single entry as produced by a fetch. Only its identity
// (the stripped title) outlives the poll cycle that produced it.
type Item struct {
	Title   string
	Link    string
	Summary string
}
