package guard

import "strings"

// DefaultBotSignatures are user-agent fragments of automation tools and crawlers.
var DefaultBotSignatures = []string{
	"headless",
	"phantomjs",
	"selenium",
	"webdriver",
	"puppeteer",
	"playwright",
	"nightmare",
	"bot",
	"crawler",
	"spider",
	"scraper",
}

// BotFilter matches user agents against a denylist, case-insensitively.
type BotFilter struct {
	signatures []string
	blockEmpty bool
}

// NewBotFilter creates a filter. An empty list uses DefaultBotSignatures.
func NewBotFilter(signatures []string, blockEmpty bool) *BotFilter {
	if len(signatures) == 0 {
		signatures = DefaultBotSignatures
	}
	f := &BotFilter{blockEmpty: blockEmpty}
	for _, s := range signatures {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			f.signatures = append(f.signatures, s)
		}
	}
	return f
}

// Match returns the first signature found in userAgent.
func (f *BotFilter) Match(userAgent string) (string, bool) {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		if f.blockEmpty {
			return "<empty>", true
		}
		return "", false
	}
	for _, sig := range f.signatures {
		if strings.Contains(ua, sig) {
			return sig, true
		}
	}
	return "", false
}
