package projection

import (
	"strings"

	"github.com/fastygo/opendatahub/domain"
)

// URLRewriter turns stored links into public ones.
type URLRewriter interface {
	// Self turns a relative "<Entity>/<id>" link into an absolute URL.
	Self(link string) string
	// Resource rewrites an absolute resource URL such as an image link.
	Resource(url string) string
}

// URLGenerator rewrites links against the public API base and a set of host prefixes.
type URLGenerator struct {
	BaseURL  string
	Prefix   string
	Rewrites map[string]string
}

// NewURLGenerator builds a generator; rewrites are "from=>to" prefix pairs.
func NewURLGenerator(baseURL, prefix string, rewrites []string) *URLGenerator {
	g := &URLGenerator{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Prefix:   "/" + strings.Trim(prefix, "/"),
		Rewrites: make(map[string]string, len(rewrites)),
	}
	if g.Prefix == "/" {
		g.Prefix = ""
	}
	for _, pair := range rewrites {
		from, to, ok := strings.Cut(pair, "=>")
		if !ok || strings.TrimSpace(from) == "" {
			continue
		}
		g.Rewrites[strings.TrimSpace(from)] = strings.TrimSpace(to)
	}
	return g
}

func (g *URLGenerator) Self(link string) string {
	if link == "" || strings.Contains(link, "://") {
		return link
	}
	return g.BaseURL + g.Prefix + "/" + strings.TrimLeft(link, "/")
}

func (g *URLGenerator) Resource(url string) string {
	best := ""
	for from := range g.Rewrites {
		if strings.HasPrefix(url, from) && len(from) > len(best) {
			best = from
		}
	}
	if best == "" {
		return url
	}
	return g.Rewrites[best] + url[len(best):]
}

func rewriteURLs(value interface{}, r URLRewriter) {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, child := range v {
			if s, ok := child.(string); ok {
				switch {
				case k == domain.FieldSelf:
					v[k] = r.Self(s)
				case strings.HasSuffix(k, "Url"):
					v[k] = r.Resource(s)
				}
				continue
			}
			if k == domain.FieldSelf {
				if localized, ok := child.(map[string]interface{}); ok {
					for lang, link := range localized {
						if s, ok := link.(string); ok {
							localized[lang] = r.Self(s)
						}
					}
					continue
				}
			}
			rewriteURLs(child, r)
		}
	case []interface{}:
		for _, child := range v {
			rewriteURLs(child, r)
		}
	}
}
