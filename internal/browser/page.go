package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
)

// Page is the surface the workflows drive. Tests substitute a fake;
// production uses the rod-backed page from Session.Page.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	Text(ctx context.Context, selector string, timeout time.Duration) (string, error)
	HTML(ctx context.Context) (string, error)
	URL() string
	Eval(ctx context.Context, js string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

type rodPage struct {
	page    *rod.Page
	timeout time.Duration
}

func (p *rodPage) clamp(d time.Duration) time.Duration {
	if d <= 0 {
		return p.timeout
	}
	return d
}

func (p *rodPage) element(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Timeout(p.clamp(timeout)).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %s not found: %w", selector, err)
	}
	return el, nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.timeout)
	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	wait()
	return nil
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("element %s not visible: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("element %s not visible: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("element %s not visible: %w", selector, err)
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Text(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	el, err := p.element(ctx, selector, timeout)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("read text of %s: %w", selector, err)
	}
	return text, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).Timeout(p.timeout).HTML()
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Eval(ctx context.Context, js string) (string, error) {
	res, err := p.page.Context(ctx).Timeout(p.timeout).Eval(js)
	if err != nil {
		return "", err
	}
	if res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Timeout(p.timeout).Screenshot(true, nil)
}

// Helper wraps a Page with soft variants of the wait/click primitives.
// They return false instead of an error so call sites can branch on
// "was it there" without unwinding the whole step.
type Helper struct {
	page      Page
	log       *logbus.Logger
	cookieSel string
}

func NewHelper(page Page, log *logbus.Logger, cookieAcceptSelector string) *Helper {
	return &Helper{page: page, log: log, cookieSel: cookieAcceptSelector}
}

func (h *Helper) WaitForElement(ctx context.Context, selector string, timeout time.Duration) bool {
	if err := h.page.WaitVisible(ctx, selector, timeout); err != nil {
		h.log.Debug("element wait failed", logbus.Fields{"selector": selector, "error": err.Error()})
		return false
	}
	return true
}

func (h *Helper) ClickElement(ctx context.Context, selector string, timeout time.Duration) bool {
	if err := h.page.Click(ctx, selector, timeout); err != nil {
		h.log.Debug("click failed", logbus.Fields{"selector": selector, "error": err.Error()})
		return false
	}
	return true
}

func (h *Helper) FillElement(ctx context.Context, selector, value string, timeout time.Duration) bool {
	if err := h.page.Fill(ctx, selector, value, timeout); err != nil {
		h.log.Debug("fill failed", logbus.Fields{"selector": selector, "error": err.Error()})
		return false
	}
	return true
}

// DismissObstructions clicks away the cookie banner when one covers
// the page and reports whether anything was dismissed. Banners can
// reappear after navigation, so every call probes, capped at a second.
func (h *Helper) DismissObstructions(ctx context.Context) bool {
	if h.cookieSel == "" {
		return false
	}
	if h.ClickElement(ctx, h.cookieSel, time.Second) {
		h.log.Info("cookie banner dismissed", nil)
		return true
	}
	return false
}
