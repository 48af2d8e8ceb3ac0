// Package browser owns the Chromium process and the per-account isolated
// sessions the workflows run in.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
)

// Hosts whose requests are dropped in performant mode. Analytics and
// trackers only slow the trade pages down.
var blockedHosts = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"facebook.net",
	"hotjar.com",
	"doubleclick.net",
}

var lowResourceArgs = []string{
	"disable-software-rasterizer",
	"disable-accelerated-2d-canvas",
	"renderer-process-limit=2",
	"js-flags=--max-old-space-size=256",
}

// Browser wraps one Chromium process shared by all account sessions.
type Browser struct {
	cfg config.AutomationConfig
	log *logbus.Logger
	rod *rod.Browser
	lc  *launcher.Launcher
}

func Launch(cfg config.AutomationConfig, log *logbus.Logger) (*Browser, error) {
	l := launcher.New().Headless(cfg.IsHeadless())
	for _, arg := range cfg.LaunchArgs {
		setFlag(l, arg)
	}
	if cfg.IsLowResource() {
		for _, arg := range lowResourceArgs {
			setFlag(l, arg)
		}
	}
	u, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	log.Info("browser launched", logbus.Fields{
		"headless":    cfg.IsHeadless(),
		"lowResource": cfg.IsLowResource(),
		"performant":  cfg.Performant,
	})
	return &Browser{cfg: cfg, log: log, rod: b, lc: l}, nil
}

func setFlag(l *launcher.Launcher, arg string) {
	arg = strings.TrimLeft(arg, "-")
	if arg == "" {
		return
	}
	if name, value, ok := strings.Cut(arg, "="); ok {
		l.Set(flags.Flag(name), value)
		return
	}
	l.Set(flags.Flag(arg))
}

func (b *Browser) Close() {
	if b == nil {
		return
	}
	if b.rod != nil {
		_ = b.rod.Close()
	}
	if b.lc != nil {
		b.lc.Kill()
	}
}

// Session is one account's isolated incognito context plus its page.
// Sessions share the Chromium process but no cookies or storage.
type Session struct {
	incognito *rod.Browser
	page      *rod.Page
	router    *rod.HijackRouter
	localSeed map[string]string
	log       *logbus.Logger
}

// NewSession opens an incognito context, seeds it with any saved state
// and returns a stealth page bound to ctx. localStorage from the state
// cannot be written before the site origin is loaded, so it is kept
// aside until ApplyLocalStorage is called after the first navigation.
func (b *Browser) NewSession(ctx context.Context, state model.StorageState) (*Session, error) {
	incognito, err := b.rod.Incognito()
	if err != nil {
		return nil, fmt.Errorf("create incognito context: %w", err)
	}
	s := &Session{incognito: incognito, log: b.log}
	if len(state.Cookies) > 0 {
		if err := incognito.SetCookies(toCookieParams(state.Cookies)); err != nil {
			s.Close()
			return nil, fmt.Errorf("restore cookies: %w", err)
		}
	}
	if b.cfg.Performant {
		s.router = incognito.HijackRequests()
		s.router.MustAdd("*", blockHeavyResources)
		go s.router.Run()
	}
	page, err := stealth.Page(incognito)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open stealth page: %w", err)
	}
	s.page = page.Context(ctx)
	s.localSeed = state.LocalStorage
	return s, nil
}

func blockHeavyResources(h *rod.Hijack) {
	u := h.Request.URL().Host
	for _, host := range blockedHosts {
		if strings.HasSuffix(u, host) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
	}
	switch h.Request.Type() {
	case proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeMedia:
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
	default:
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}
}

// Page returns the session page behind the Page interface.
func (s *Session) Page(defaultTimeout time.Duration) Page {
	return &rodPage{page: s.page, timeout: defaultTimeout}
}

// ApplyLocalStorage writes the saved localStorage entries. Call it once
// the page sits on the site origin, never before.
func (s *Session) ApplyLocalStorage() error {
	if len(s.localSeed) == 0 {
		return nil
	}
	for k, v := range s.localSeed {
		_, err := s.page.Eval(`(k, v) => localStorage.setItem(k, v)`, k, v)
		if err != nil {
			return fmt.Errorf("restore localStorage: %w", err)
		}
	}
	return nil
}

// ExportState captures the session cookies and localStorage for reuse.
func (s *Session) ExportState() (model.StorageState, error) {
	cookies, err := s.incognito.GetCookies()
	if err != nil {
		return model.StorageState{}, fmt.Errorf("export cookies: %w", err)
	}
	state := model.StorageState{Cookies: fromNetworkCookies(cookies)}
	res, err := s.page.Eval(`() => JSON.stringify(Object.fromEntries(Object.entries(localStorage)))`)
	if err == nil {
		state.LocalStorage = parseLocalStorage(res.Value.Str())
	}
	return state, nil
}

func parseLocalStorage(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func (s *Session) Close() {
	if s == nil {
		return
	}
	if s.router != nil {
		_ = s.router.Stop()
	}
	if s.incognito != nil {
		_ = s.incognito.Close()
	}
}

func toCookieParams(in []model.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(in))
	for _, c := range in {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: sameSiteFromString(c.SameSite),
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		out = append(out, p)
	}
	return out
}

func fromNetworkCookies(in []*proto.NetworkCookie) []model.Cookie {
	out := make([]model.Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, model.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

func sameSiteFromString(s string) proto.NetworkCookieSameSite {
	switch strings.ToLower(s) {
	case "lax":
		return proto.NetworkCookieSameSiteLax
	case "strict":
		return proto.NetworkCookieSameSiteStrict
	case "none":
		return proto.NetworkCookieSameSiteNone
	default:
		return ""
	}
}
