package puddle

import (
	"net/http"
	"net/url"
	"strings"
)

// Endpoint is one typed call definition. Values are built only through the
// constructors below, so the set of reachable paths is closed.
type Endpoint struct {
	name       string
	method     string
	path       string
	expectJSON bool
}

func (e Endpoint) Name() string      { return e.name }
func (e Endpoint) Method() string    { return e.method }
func (e Endpoint) Path() string      { return e.path }
func (e Endpoint) ExpectsJSON() bool { return e.expectJSON }
func (e Endpoint) IsZero() bool      { return e.method == "" }

func getJSON(name string, segments ...string) Endpoint {
	return Endpoint{name: name, method: http.MethodGet, path: joinPath(segments...), expectJSON: true}
}

func joinPath(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// PlayerEndpoint is GET /player/{id}.
func PlayerEndpoint(id string) Endpoint { return getJSON("player", "player", id) }

// PlayerHistoryEndpoint is GET /player/{id}/history/{char}.
func PlayerHistoryEndpoint(id, char string) Endpoint {
	return getJSON("player_history", "player", id, "history", char)
}

// TopEndpoint is GET /top.
func TopEndpoint() Endpoint { return getJSON("top", "top") }

// TopForCharacterEndpoint is GET /top/{char}.
func TopForCharacterEndpoint(char string) Endpoint { return getJSON("top_char", "top", char) }

// PopularityEndpoint is GET /popularity.
func PopularityEndpoint() Endpoint { return getJSON("popularity", "popularity") }

// HealthEndpoint is GET /health. It answers plain text.
func HealthEndpoint() Endpoint {
	return Endpoint{name: "health", method: http.MethodGet, path: "/health"}
}
