package feed

import (
	"os"
	"path/filepath"
	"testing"
)

func writeOPML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.opml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write opml: %v", err)
	}
	return path
}

func TestParseOPML(t *testing.T) {
	t.Parallel()
	path := writeOPML(t, `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0"><body>
  <outline text="Example" xmlUrl="http://example.com/rss" />
  <outline xmlUrl="http://example.com/alt" />
  <outline text="MissingUrl" />
</body></opml>`)

	feeds, err := ParseOPML(path)
	if err != nil {
		t.Fatalf("ParseOPML error: %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("len(feeds) = %d, want 2", len(feeds))
	}
	if feeds[0].URL != "http://example.com/rss" || feeds[0].Name != "Example" {
		t.Fatalf("feeds[0] = %+v", feeds[0])
	}
	if feeds[1].URL != "http://example.com/alt" || feeds[1].Name != "" {
		t.Fatalf("feeds[1] = %+v", feeds[1])
	}
}

func TestParseOPMLNestedFolders(t *testing.T) {
	t.Parallel()
	path := writeOPML(t, `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0"><body>
  <outline text="News">
    <outline title="Inner" xmlUrl="http://inner.test/rss" />
  </outline>
  <outline text="Top" xmlUrl="http://top.test/rss" />
</body></opml>`)

	feeds, err := ParseOPML(path)
	if err != nil {
		t.Fatalf("ParseOPML error: %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("len(feeds) = %d, want 2", len(feeds))
	}
	if feeds[0].URL != "http://inner.test/rss" || feeds[0].Name != "Inner" {
		t.Fatalf("feeds[0] = %+v, want inner feed first (document order)", feeds[0])
	}
	if feeds[1].URL != "http://top.test/rss" {
		t.Fatalf("feeds[1] = %+v", feeds[1])
	}
}

func TestParseOPMLMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := ParseOPML(filepath.Join(t.TempDir(), "absent.opml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseOPMLMalformed(t *testing.T) {
	t.Parallel()
	path := writeOPML(t, "<opml><body><outline")
	if _, err := ParseOPML(path); err == nil {
		t.Fatal("expected error for malformed document")
	}
}
