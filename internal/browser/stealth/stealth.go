// Package stealth makes a chromedp tab look like a user-operated browser before
// it reaches a challenge page.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// ScreenProperties defines the emulated display.
type ScreenProperties struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent           string           `json:"userAgent"`
	Platform            string           `json:"platform"`
	Languages           []string         `json:"languages"`
	TimezoneID          string           `json:"timezoneId,omitempty"`
	Locale              string           `json:"locale,omitempty"`
	HardwareConcurrency int              `json:"hardwareConcurrency,omitempty"`
	Screen              ScreenProperties `json:"screen"`
}

// DefaultPersona is a common desktop Chrome profile.
var DefaultPersona = Persona{
	UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	Platform:            "Win32",
	Languages:           []string{"en-US", "en"},
	TimezoneID:          "America/Los_Angeles",
	Locale:              "en-US",
	HardwareConcurrency: 8,
	Screen:              ScreenProperties{Width: 1920, Height: 1080},
}

// Apply returns the CDP actions that install persona on the current tab. It
// must run before the first navigation for the evasions to take effect.
func Apply(persona Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := logger.Named("stealth")
	l.Debug("Applying browser stealth persona",
		zap.String("user_agent", persona.UserAgent),
		zap.String("platform", persona.Platform))

	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(persona.UserAgent).
			WithPlatform(persona.Platform).
			WithAcceptLanguage(AcceptLanguage(persona.Languages)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := PersonaScript(persona)
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				l.Error("Failed to register evasion script with CDP", zap.Error(err))
				return fmt.Errorf("stealth: failed to add script on new document: %w", err)
			}
			return nil
		}),
	}

	if header := AcceptLanguage(persona.Languages); header != "" {
		tasks = append(tasks,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": header}))
	}
	if persona.TimezoneID != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(persona.TimezoneID))
	}
	if persona.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(persona.Locale))
	}
	return tasks
}

// PersonaScript prefixes the evasion script with the persona it reads.
func PersonaScript(persona Persona) (string, error) {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(persona)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to marshal persona: %w", err)
	}
	return fmt.Sprintf("const CLEARANCE_PERSONA = %s;\n%s", b, evasionsScript), nil
}

// AcceptLanguage renders languages as an Accept-Language header with
// decreasing q-values, floored at 0.7.
func AcceptLanguage(languages []string) string {
	if len(languages) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(languages[0])
	for i, lang := range languages[1:] {
		q := max(1.0-float64(i+1)*0.1, 0.7)
		fmt.Fprintf(&sb, ",%s;q=%.1f", lang, q)
	}
	return sb.String()
}
