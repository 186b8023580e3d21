package cloudflare

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/clearance/internal/detect"
	"github.com/xkilldash9x/clearance/pkg/browser/dom"
)

// ChallengeType selects which Cloudflare challenge variant is being solved.
type ChallengeType int

const (
	// Interstitial is the full-page "checking your browser" challenge.
	Interstitial ChallengeType = iota
	// Widget is the embeddable Turnstile widget.
	Widget
)

func (c ChallengeType) String() string {
	switch c {
	case Interstitial:
		return "interstitial"
	case Widget:
		return "turnstile"
	default:
		return "unknown"
	}
}

// ParseChallengeType maps a configured name onto a ChallengeType. An empty name
// selects the interstitial; "turnstile" and "widget" both name the widget.
func ParseChallengeType(name string) (ChallengeType, bool) {
	switch name {
	case "", "interstitial":
		return Interstitial, true
	case "turnstile", "widget":
		return Widget, true
	default:
		return Interstitial, false
	}
}

// ChallengeTypeNames lists the canonical names accepted by ParseChallengeType.
func ChallengeTypeNames() []string {
	return []string{Interstitial.String(), Widget.String()}
}

const (
	// IframeURLFingerprint is the src prefix of every Cloudflare challenge iframe.
	IframeURLFingerprint = "https://challenges.cloudflare.com/cdn-cgi/challenge-platform/"
	// CheckboxSelector matches the challenge checkbox inside the iframe's shadow DOM.
	CheckboxSelector = `input[type="checkbox"]`
	// WidgetSuccessSelector matches the success marker the widget renders once cleared.
	WidgetSuccessSelector = `div[id="success"]`
)

// challengeSelectors is ordered cheapest and most specific first. Detection stops
// at the first hit.
var challengeSelectors = map[ChallengeType][]string{
	Interstitial: {
		`script[src*="/cdn-cgi/challenge-platform/"]`,
	},
	Widget: {
		`input[name="cf-turnstile-response"]`,
		`script[src*="challenges.cloudflare.com/turnstile/v0"]`,
	},
}

// ChallengeSelectors returns a copy of the fingerprint list for kind.
func ChallengeSelectors(kind ChallengeType) []string {
	return slices.Clone(challengeSelectors[kind])
}

// DetectChallenge reports whether a challenge of the given kind is present in q.
func DetectChallenge(ctx context.Context, logger *zap.Logger, q dom.Queryable, kind ChallengeType) bool {
	return detect.SelectorsPresent(ctx, logger, q, challengeSelectors[kind])
}
