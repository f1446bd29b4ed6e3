package streaminghttp

import (
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
)

// acceptedMediaTypes returns the media ranges of the Accept header in the
// order the client listed them. Unparseable ranges keep their position as a
// zero MediaType so that "listed first" stays meaningful.
func acceptedMediaTypes(r *http.Request) []contenttype.MediaType {
	var out []contenttype.MediaType
	for _, v := range r.Header.Values("Accept") {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, contenttype.NewMediaType(part))
		}
	}
	return out
}

// sameMediaType compares type and subtype literally. Wildcards only match
// themselves.
func sameMediaType(a, b contenttype.MediaType) bool {
	return a.Type != "" && strings.EqualFold(a.Type, b.Type) && strings.EqualFold(a.Subtype, b.Subtype)
}

func acceptsMediaType(accepted []contenttype.MediaType, want contenttype.MediaType) bool {
	for _, mt := range accepted {
		if sameMediaType(mt, want) {
			return true
		}
	}
	return false
}

// prefersEventStream reports whether text/event-stream is the first range
// the client listed.
func prefersEventStream(accepted []contenttype.MediaType) bool {
	return len(accepted) > 0 && sameMediaType(accepted[0], eventStreamMediaType)
}

// checkJSONContentType allows an absent Content-Type and otherwise requires
// application/json, parameters notwithstanding.
func checkJSONContentType(r *http.Request) error {
	if r.Header.Get("Content-Type") == "" {
		return nil
	}
	mt, err := contenttype.GetMediaType(r)
	if err != nil || !sameMediaType(mt, jsonMediaType) {
		return badRequest("Content-Type must be application/json")
	}
	return nil
}
