package stealth

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Persona is the identity the browser presents to pages.
type Persona struct {
	UserAgent string
	Platform  string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona is used when no explicit or randomized user agent is configured.
var DefaultPersona = Persona{
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	Platform:  "Win32",
	Languages: []string{"en-US", "en"},
	Timezone:  "America/Los_Angeles",
	Locale:    "en-US",
}

// userAgents holds realistic identity strings per browser family.
var userAgents = map[string][]string{
	"chrome": {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	},
	"edge": {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
	},
}

// RandomUserAgent picks an identity string for the browser family. Unknown
// families fall back to chrome.
func RandomUserAgent(browserType string, r *rand.Rand) string {
	pool, ok := userAgents[strings.ToLower(browserType)]
	if !ok {
		pool = userAgents["chrome"]
	}
	return pool[r.Intn(len(pool))]
}

// PlatformFor derives navigator.platform from a user agent.
func PlatformFor(ua string) string {
	switch {
	case strings.Contains(ua, "Macintosh"):
		return "MacIntel"
	case strings.Contains(ua, "Linux"):
		return "Linux x86_64"
	default:
		return "Win32"
	}
}

// WithUserAgent returns a copy of p presenting ua.
func (p Persona) WithUserAgent(ua string) Persona {
	if ua == "" {
		return p
	}
	p.UserAgent = ua
	p.Platform = PlatformFor(ua)
	return p
}

// AcceptLanguage renders the Accept-Language header for the persona.
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return "en-US"
	}
	parts := []string{p.Languages[0]}
	for i, l := range p.Languages[1:] {
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, 0.9-float64(i)*0.1))
	}
	return strings.Join(parts, ",")
}

// Apply returns the CDP tasks that install the persona on the current target.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(p.AcceptLanguage()).
			WithPlatform(p.Platform),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(EvasionScript(p)).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
	}
}

// EvasionScript masks the fingerprints automation leaves in the page realm.
func EvasionScript(p Persona) string {
	langs := make([]string, len(p.Languages))
	for i, l := range p.Languages {
		langs[i] = fmt.Sprintf("%q", l)
	}
	return fmt.Sprintf(`(() => {
  const define = (obj, prop, value) => {
    try { Object.defineProperty(obj, prop, { get: () => value, configurable: true }); } catch (e) {}
  };
  define(Navigator.prototype, 'webdriver', undefined);
  define(Navigator.prototype, 'languages', Object.freeze([%s]));
  define(Navigator.prototype, 'platform', %q);
  define(Navigator.prototype, 'plugins', [1, 2, 3, 4, 5]);
  if (!window.chrome) { window.chrome = { runtime: {}, app: { isInstalled: false } }; }
  const query = window.navigator.permissions && window.navigator.permissions.query;
  if (query) {
    window.navigator.permissions.query = (params) =>
      params && params.name === 'notifications'
        ? Promise.resolve({ state: Notification.permission })
        : query.call(window.navigator.permissions, params);
  }
})();`, strings.Join(langs, ", "), p.Platform)
}
