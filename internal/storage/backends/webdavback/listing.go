package webdavback

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/blockvault/barc/internal/storage"
)

// multistatus mirrors RFC 4918's PROPFIND response body closely enough to
// extract the fields this backend needs (resource type, size, last
// modified); namespace prefixes vary by server, so every element is
// matched on local name only via xml.Name.Local rather than a fixed
// "D:"/"d:" prefix.
type multistatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string       `xml:"href"`
	Propstat []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Prop davProp `xml:"prop"`
}

type davProp struct {
	ResourceType     davResourceType `xml:"resourcetype"`
	ContentLength    string          `xml:"getcontentlength"`
	LastModified     string          `xml:"getlastmodified"`
	DisplayName      string          `xml:"displayname"`
}

type davResourceType struct {
	Collection *struct{} `xml:"collection"`
}

// parseMultistatus decodes a PROPFIND response body into storage.FileInfo
// entries, skipping the entry for basePath itself (Depth:1 PROPFIND
// echoes the requested collection as its own first <response>).
func parseMultistatus(body []byte, basePath string) ([]storage.FileInfo, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, err
	}

	normalizedBase := strings.TrimRight(basePath, "/")
	var out []storage.FileInfo
	for _, r := range ms.Responses {
		href := strings.TrimRight(decodeHrefPath(r.Href), "/")
		if href == normalizedBase || href == "" {
			continue
		}
		if len(r.Propstat) == 0 {
			continue
		}
		prop := r.Propstat[0].Prop

		name := prop.DisplayName
		if name == "" {
			if idx := strings.LastIndex(href, "/"); idx >= 0 {
				name = href[idx+1:]
			} else {
				name = href
			}
		}

		info := storage.FileInfo{
			Name:  name,
			IsDir: prop.ResourceType.Collection != nil,
		}
		if size, err := strconv.ParseInt(prop.ContentLength, 10, 64); err == nil {
			info.Size = size
		}
		if t, err := time.Parse(time.RFC1123, prop.LastModified); err == nil {
			info.ModTime = t
		}
		out = append(out, info)
	}
	return out, nil
}

// decodeHrefPath strips a scheme/host prefix some servers include in the
// href even for a path-only PROPFIND request.
func decodeHrefPath(href string) string {
	if idx := strings.Index(href, "://"); idx >= 0 {
		rest := href[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			return rest[slash:]
		}
		return "/"
	}
	return href
}

type dirLister struct {
	entries []storage.FileInfo
	idx     int
}

func (d *dirLister) Next() (storage.FileInfo, error) {
	if d.idx >= len(d.entries) {
		return storage.FileInfo{}, io.EOF
	}
	info := d.entries[d.idx]
	d.idx++
	return info, nil
}

func (d *dirLister) Close() error { return nil }
