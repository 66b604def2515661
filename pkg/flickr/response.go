package flickr

import (
	"fmt"

	"github.com/segmentio/encoding/json"
	"github.com/tidwall/gjson"
	"github.com/virtualtourist/tourist/pkg/errcodes"
)

const statusOK = "ok"

// Photo is one search hit: the Flickr photo id and its medium-size image URL.
type Photo struct {
	ID  string `json:"id"`
	URL string `json:"url_m"`
}

type SearchResult struct {
	Stat   string
	Photos []Photo
	Page   int
	Pages  int
}

func parseSearchResponse(body []byte) (*SearchResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, errcodes.ProtocolError("Could not parse the data as JSON")
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, errcodes.ProtocolError("Response is not a JSON object")
	}

	stat := root.Get("stat")
	if !stat.Exists() {
		return nil, errcodes.ProtocolError("Cannot find key 'stat' in the response")
	}
	if stat.String() != statusOK {
		msg := fmt.Sprintf("Flickr API returned an error (stat %q)", stat.String())
		if m := root.Get("message"); m.Exists() && m.String() != "" {
			msg = fmt.Sprintf("Flickr API returned an error: %s", m.String())
		}
		if code := root.Get("code"); code.Exists() {
			msg = fmt.Sprintf("%s (code %d)", msg, code.Int())
		}
		return nil, errcodes.ProtocolError(msg)
	}

	photos := root.Get("photos")
	if !photos.IsObject() {
		return nil, errcodes.ProtocolError("Cannot find key 'photos' in the response")
	}

	page := photos.Get("page")
	if !page.Exists() {
		return nil, errcodes.ProtocolError("Cannot find key 'page' in 'photos'")
	}
	pages := photos.Get("pages")
	if !pages.Exists() {
		return nil, errcodes.ProtocolError("Cannot find key 'pages' in 'photos'")
	}
	photo := photos.Get("photo")
	if !photo.IsArray() {
		return nil, errcodes.ProtocolError("Cannot find key 'photo' in 'photos'")
	}

	var raw []struct {
		ID  json.RawMessage `json:"id"`
		URL string          `json:"url_m"`
	}
	if err := json.Unmarshal([]byte(photo.Raw), &raw); err != nil {
		return nil, errcodes.ProtocolError(fmt.Sprintf("Malformed 'photo' list: %v", err))
	}

	result := &SearchResult{
		Stat:   stat.String(),
		Page:   int(page.Int()),
		Pages:  int(pages.Int()),
		Photos: make([]Photo, 0, len(raw)),
	}
	for _, p := range raw {
		// Photos without a medium-size URL can't be displayed.
		if p.URL == "" {
			continue
		}
		result.Photos = append(result.Photos, Photo{
			ID:  gjson.ParseBytes(p.ID).String(),
			URL: p.URL,
		})
	}

	return result, nil
}
