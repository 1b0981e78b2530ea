package escape

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	sanitizePolicyOnce sync.Once
	sanitizePolicy     *bluemonday.Policy
)

func htmlSanitizer() *bluemonday.Policy {
	sanitizePolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.RequireNoFollowOnLinks(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		sanitizePolicy = policy
	})
	return sanitizePolicy
}

// SanitizeHTML cleans untrusted rich text down to a user-generated-content
// whitelist and tags the result as safe HTML, so a later EscapeHTML emits it
// unchanged. Content already tagged as HTML is trusted and returned as is.
func SanitizeHTML(v any) SafeContent {
	if content, ok := asSafe(v, ContentHTML); ok {
		return HTML(content)
	}
	return HTML(htmlSanitizer().Sanitize(ToString(v)))
}
