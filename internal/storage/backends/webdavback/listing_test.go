package webdavback

import (
	"testing"
	"time"
)

const samplePropfind = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/backups/</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype><D:collection/></D:resourcetype>
        <D:getlastmodified>Mon, 12 Jan 2026 10:00:00 GMT</D:getlastmodified>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/backups/a.bar</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype/>
        <D:getcontentlength>4096</D:getcontentlength>
        <D:getlastmodified>Tue, 13 Jan 2026 11:30:00 GMT</D:getlastmodified>
        <D:displayname>a.bar</D:displayname>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>https://example.com/backups/sub/</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype><D:collection/></D:resourcetype>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

func TestParseMultistatusSkipsSelfEntry(t *testing.T) {
	entries, err := parseMultistatus([]byte(samplePropfind), "/backups/")
	if err != nil {
		t.Fatalf("parseMultistatus: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (self entry excluded): %+v", len(entries), entries)
	}

	file := entries[0]
	if file.Name != "a.bar" || file.IsDir || file.Size != 4096 {
		t.Errorf("file entry = %+v, want name=a.bar size=4096 isDir=false", file)
	}
	wantTime := time.Date(2026, time.January, 13, 11, 30, 0, 0, time.UTC)
	if !file.ModTime.Equal(wantTime) {
		t.Errorf("file.ModTime = %v, want %v", file.ModTime, wantTime)
	}

	dir := entries[1]
	if dir.Name != "sub" || !dir.IsDir {
		t.Errorf("dir entry = %+v, want name=sub isDir=true", dir)
	}
}

func TestDecodeHrefPath(t *testing.T) {
	cases := map[string]string{
		"/backups/a.bar":                 "/backups/a.bar",
		"https://example.com/backups/a.bar": "/backups/a.bar",
		"http://example.com":             "/",
	}
	for in, want := range cases {
		if got := decodeHrefPath(in); got != want {
			t.Errorf("decodeHrefPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDirListerIteration(t *testing.T) {
	entries, err := parseMultistatus([]byte(samplePropfind), "/backups/")
	if err != nil {
		t.Fatalf("parseMultistatus: %v", err)
	}
	d := &dirLister{entries: entries}

	count := 0
	for {
		_, err := d.Next()
		if err != nil {
			break
		}
		count++
	}
	if count != len(entries) {
		t.Errorf("iterated %d entries, want %d", count, len(entries))
	}
	if _, err := d.Next(); err == nil {
		t.Error("expected io.EOF-equivalent error after exhausting entries")
	}
}
