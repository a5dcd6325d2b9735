package render

import (
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// contentPolicy is applied after the strip pipeline. It removes what the
// textual steps leave behind: event handlers, javascript: URLs, forms and
// embedded frames.
func contentPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowAttrs("dir").Matching(regexp.MustCompile(`(?i)^(rtl|ltr|auto)$`)).Globally()
		p.AllowAttrs("lang").Globally()
		p.AllowElements("ruby", "rt", "rp", "bdi", "bdo", "figure", "figcaption", "section", "aside", "small")
		p.AllowDataURIImages()
		p.RequireNoFollowOnLinks(false)
		policy = p
	})
	return policy
}

func sanitize(fragment string) string {
	return contentPolicy().Sanitize(fragment)
}
