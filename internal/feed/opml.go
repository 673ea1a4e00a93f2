package feed

import (
	"encoding/xml"
	"fmt"
	"os"
)

type opmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	Children []opmlOutline `xml:"outline"`
}

type opmlDoc struct {
	Body struct {
		Outlines []opmlOutline `xml:"outline"`
	} `xml:"body"`
}

// ParseOPML reads the subscription list at path. Outlines may nest
// (folders); every outline carrying an xmlUrl attribute becomes a
// feed, in document order. Outlines without one (folders, malformed
// entries) are skipped silently. The display name comes from the
// text attribute, falling back to title.
func ParseOPML(path string) ([]Feed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read opml: %w", err)
	}
	var doc opmlDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse opml %s: %w", path, err)
	}
	var feeds []Feed
	var walk func(outlines []opmlOutline)
	walk = func(outlines []opmlOutline) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				feeds = append(feeds, Feed{URL: o.XMLURL, Name: name})
			}
			walk(o.Children)
		}
	}
	walk(doc.Body.Outlines)
	return feeds, nil
}
