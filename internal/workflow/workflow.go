// Package workflow drives the TTUEX copy-trading sequence for a single
// account: login, open the contract page, switch to the copy trading
// tab, enter the order number and confirm the follow-up.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/browser"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/classify"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/retry"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/session"
)

type Options struct {
	Account  model.Account
	Page     browser.Page
	Sessions *session.Store
	Config   config.Config
	Log      *logbus.Logger
	Retry    retry.Policy
	// ExportState captures the live browser state for session reuse.
	// Nil disables persistence (tests, dry runs).
	ExportState func() (model.StorageState, error)
	// RestoreLocalStorage replays saved localStorage once the page sits
	// on the site origin. Nil is a no-op.
	RestoreLocalStorage func() error
}

type Workflow struct {
	account     model.Account
	page        browser.Page
	helper      *browser.Helper
	sessions    *session.Store
	cfg         config.Config
	log         *logbus.Logger
	policy      retry.Policy
	exportState func() (model.StorageState, error)
	restoreLS   func() error
}

func New(opts Options) *Workflow {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	log := opts.Log.With(logbus.Fields{"account": opts.Account.AccountName})
	return &Workflow{
		account:     opts.Account,
		page:        opts.Page,
		helper:      browser.NewHelper(opts.Page, log, opts.Config.Selectors.CookieAcceptButton),
		sessions:    opts.Sessions,
		cfg:         opts.Config,
		log:         log,
		policy:      opts.Retry,
		exportState: opts.ExportState,
		restoreLS:   opts.RestoreLocalStorage,
	}
}

func (w *Workflow) newReport(orderNumber string, dryRun bool) *model.WorkflowReport {
	return &model.WorkflowReport{
		ID:          uuid.NewString(),
		AccountName: w.account.AccountName,
		OrderNumber: orderNumber,
		DryRun:      dryRun,
		StartTime:   time.Now().UTC(),
	}
}

// ExecuteLogin runs only the login step and reports the outcome.
func (w *Workflow) ExecuteLogin(ctx context.Context, dryRun bool) *model.WorkflowReport {
	w.log.Info("starting login workflow", logbus.Fields{"dryRun": dryRun})
	report := w.newReport("", dryRun)
	defer w.finish(ctx, report)

	if dryRun {
		report.AppendStep(model.StepResult{Step: model.StepLogin, Success: true, Simulated: true})
		return report
	}
	w.runStep(ctx, report, model.StepLogin, w.stepLogin)
	return report
}

type CopyTradeOptions struct {
	DryRun bool
	// SkipHistoryVerification drops the extra simulated verification
	// step from dry runs. Live runs always press the follow button
	// exactly once.
	SkipHistoryVerification bool
}

// ExecuteCopyTrade runs the full sequence. A failed step ends the run
// early; the report always lists every step that was attempted.
func (w *Workflow) ExecuteCopyTrade(ctx context.Context, orderNumber string, opts CopyTradeOptions) *model.WorkflowReport {
	w.log.Info("starting copy trade workflow", logbus.Fields{
		"orderNumber": orderNumber,
		"dryRun":      opts.DryRun,
	})
	report := w.newReport(orderNumber, opts.DryRun)
	defer w.finish(ctx, report)

	if opts.DryRun {
		w.simulateCopyTrade(report, orderNumber, opts)
		return report
	}

	if !w.runStep(ctx, report, model.StepLogin, w.stepLogin) {
		return report
	}
	if !w.runStep(ctx, report, model.StepNavigateToContract, w.stepNavigateToContract) {
		return report
	}
	if !w.runStep(ctx, report, model.StepNavigateToCopyTrading, w.stepNavigateToCopyTrading) {
		return report
	}
	if !w.stepEnterOrderNumber(ctx, report, orderNumber) {
		return report
	}
	// The follow button is pressed exactly once per run. Pressing it
	// again would re-submit the order.
	w.runStep(ctx, report, model.StepExecuteFollowUp, w.stepExecuteFollowUp)
	return report
}

func (w *Workflow) simulateCopyTrade(report *model.WorkflowReport, orderNumber string, opts CopyTradeOptions) {
	report.AppendStep(model.StepResult{Step: model.StepLogin, Success: true, Simulated: true})
	report.AppendStep(model.StepResult{Step: model.StepNavigateToContract, Success: true, Simulated: true})
	report.AppendStep(model.StepResult{Step: model.StepNavigateToCopyTrading, Success: true, Simulated: true})
	report.AppendStep(model.StepResult{Step: model.StepEnterOrderNumber, Success: true, Simulated: true, OrderNumber: orderNumber})
	report.AppendStep(model.StepResult{Step: model.StepExecuteFollowUp, Success: true, Simulated: true})
	if !opts.SkipHistoryVerification {
		report.AppendStep(model.StepResult{Step: model.StepExecuteFollowUp, Success: true, Simulated: true})
	}
	w.log.Info("dry run completed", nil)
}

// runStep executes one retryable step and records its result. Returns
// whether the workflow should continue.
func (w *Workflow) runStep(ctx context.Context, report *model.WorkflowReport, step model.Step, fn func(ctx context.Context, res *model.StepResult) error) bool {
	res := model.StepResult{Step: step}
	err := w.policy.Do(ctx, w.log, string(step), func(ctx context.Context) error {
		res = model.StepResult{Step: step}
		return fn(ctx, &res)
	})
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		w.log.Warn("step failed", logbus.Fields{"step": string(step), "error": err.Error()})
	} else {
		res.Success = true
	}
	return report.AppendStep(res)
}

func (w *Workflow) stepLogin(ctx context.Context, res *model.StepResult) error {
	timeout := w.cfg.Automation.DefaultTimeout()
	sel := w.cfg.Selectors

	if w.sessions.Exists(w.account.AccountName) {
		w.log.Info("existing session found, verifying", nil)
		ok, err := w.resumeSession(ctx)
		if err != nil {
			if classify.IsPermanent(err) {
				return err
			}
			w.log.Warn("session validation failed, falling back to full login", logbus.Fields{"error": err.Error()})
		}
		if ok {
			res.Cached = true
			return nil
		}
		w.log.Info("session expired, proceeding with full login", nil)
	}

	if err := w.page.Navigate(ctx, w.cfg.Site.LoginURL); err != nil {
		return classify.Wrap(err)
	}
	w.helper.DismissObstructions(ctx)

	if !w.helper.WaitForElement(ctx, sel.LoginUsernameInput, timeout) {
		if onLoginPage(w.page.URL()) {
			if w.pageShowsError(ctx) {
				return classify.Permanentf("login page shows an error, likely incorrect credentials")
			}
			return classify.Temporaryf("login form not visible, possible page loading issue")
		}
		return classify.Temporaryf("did not reach login page, current url: %s", w.page.URL())
	}

	if err := w.page.Fill(ctx, sel.LoginUsernameInput, w.account.Username, timeout); err != nil {
		return classify.Wrap(err)
	}
	if err := w.page.Fill(ctx, sel.LoginPasswordInput, w.account.Password.Reveal(), timeout); err != nil {
		return classify.Wrap(err)
	}
	if err := w.page.Click(ctx, sel.LoginSubmitButton, timeout); err != nil {
		return classify.Wrap(err)
	}
	w.helper.DismissObstructions(ctx)

	if !w.waitURLLeavesLogin(ctx, timeout) {
		if w.pageShowsError(ctx) {
			return classify.Permanentf("login failed, likely incorrect credentials, url: %s", w.page.URL())
		}
		if onLoginPage(w.page.URL()) {
			return classify.Temporaryf("still on login page after submission, url: %s", w.page.URL())
		}
	}

	if !w.helper.WaitForElement(ctx, sel.PostLoginMarker, timeout) {
		if w.pageShowsError(ctx) {
			return classify.Permanentf("post-login elements missing, likely incorrect credentials, url: %s", w.page.URL())
		}
		return classify.Temporaryf("post-login elements not found, url: %s", w.page.URL())
	}

	w.persistSession()
	w.log.Info("login successful", nil)
	return nil
}

// resumeSession checks whether the restored cookies still authenticate.
func (w *Workflow) resumeSession(ctx context.Context) (bool, error) {
	if err := w.page.Navigate(ctx, w.cfg.Site.BaseURL); err != nil {
		return false, classify.Wrap(err)
	}
	if w.restoreLS != nil {
		if err := w.restoreLS(); err != nil {
			w.log.Warn("localStorage restore failed", logbus.Fields{"error": err.Error()})
		} else if err := w.page.Navigate(ctx, w.cfg.Site.BaseURL); err != nil {
			return false, classify.Wrap(err)
		}
	}
	w.helper.DismissObstructions(ctx)
	if w.helper.WaitForElement(ctx, w.cfg.Selectors.PostLoginMarker, w.cfg.Automation.DefaultTimeout()) {
		w.log.Info("session still active, skipping login", nil)
		return true, nil
	}
	return false, nil
}

func (w *Workflow) stepNavigateToContract(ctx context.Context, res *model.StepResult) error {
	if err := w.page.Navigate(ctx, w.cfg.Site.TradeURL()); err != nil {
		return classify.Wrap(err)
	}
	w.helper.DismissObstructions(ctx)

	if !w.helper.WaitForElement(ctx, w.cfg.Selectors.ContractMarker, w.cfg.Automation.DefaultTimeout()) {
		url := w.page.URL()
		if onLoginPage(url) {
			return classify.Permanentf("not logged in when opening contract page, redirected to: %s", url)
		}
		html, _ := w.page.HTML(ctx)
		lower := strings.ToLower(html)
		if strings.Contains(lower, "error") || strings.Contains(lower, "not found") {
			w.saveDebugHTML(ctx, model.StepNavigateToContract)
			return classify.Permanentf("contract page returned an error, url: %s", url)
		}
		return classify.Temporaryf("contract page elements not found, url: %s", url)
	}
	return nil
}

func (w *Workflow) stepNavigateToCopyTrading(ctx context.Context, res *model.StepResult) error {
	w.helper.DismissObstructions(ctx)
	sel := w.cfg.Selectors.CopyTradingButton
	if !w.helper.ClickElement(ctx, sel, w.cfg.Automation.DefaultTimeout()) {
		url := w.page.URL()
		if onLoginPage(url) {
			return classify.Permanentf("logged out when opening copy trading, redirected to: %s", url)
		}
		// Visible but unclickable reads as a loading hiccup. Absent
		// altogether means the tab layout changed underneath us.
		if w.helper.WaitForElement(ctx, sel, 2*time.Second) {
			return classify.Temporaryf("copy trading button present but not clickable, url: %s", url)
		}
		w.saveDebugHTML(ctx, model.StepNavigateToCopyTrading)
		return classify.Permanentf("copy trading button not found, UI might have changed, url: %s", url)
	}
	return nil
}

// stepEnterOrderNumber runs outside the retry policy; the order field
// is filled at most once per run.
func (w *Workflow) stepEnterOrderNumber(ctx context.Context, report *model.WorkflowReport, orderNumber string) bool {
	res := model.StepResult{Step: model.StepEnterOrderNumber, OrderNumber: orderNumber}
	err := w.enterOrderNumber(ctx, orderNumber)
	if err != nil {
		res.Error = err.Error()
		w.log.Warn("step failed", logbus.Fields{"step": string(model.StepEnterOrderNumber), "error": err.Error()})
	} else {
		res.Success = true
	}
	return report.AppendStep(res)
}

func (w *Workflow) enterOrderNumber(ctx context.Context, orderNumber string) error {
	w.helper.DismissObstructions(ctx)
	sel := w.cfg.Selectors.OrderNumberInput
	timeout := w.cfg.Automation.DefaultTimeout()
	found := w.helper.WaitForElement(ctx, sel, timeout)
	if !found {
		// A banner may have appeared over the field since the last
		// dismissal pass. Clear it and look once more.
		w.helper.DismissObstructions(ctx)
		found = w.helper.WaitForElement(ctx, sel, timeout)
	}
	if !found {
		url := w.page.URL()
		if onLoginPage(url) {
			return classify.Permanentf("logged out when entering order number, redirected to: %s", url)
		}
		return classify.Temporaryf("order number input not visible, url: %s", url)
	}
	if err := w.page.Fill(ctx, sel, orderNumber, timeout); err != nil {
		return classify.Wrap(err)
	}
	w.log.Info("order number entered", logbus.Fields{"orderNumber": orderNumber})
	return nil
}

func (w *Workflow) stepExecuteFollowUp(ctx context.Context, res *model.StepResult) error {
	w.helper.DismissObstructions(ctx)
	sel := w.cfg.Selectors

	if !w.helper.WaitForElement(ctx, sel.FollowOrderButton, time.Second) {
		return classify.Temporaryf("follow order button not visible, url: %s", w.page.URL())
	}
	// The confirmation can appear even when the click reports an error,
	// so a failed click still falls through to outcome detection.
	if !w.helper.ClickElement(ctx, sel.FollowOrderButton, time.Second) {
		w.log.Warn("follow order click reported an error, checking outcome anyway", nil)
	}

	// The confirmation budget splits between a short alert probe and a
	// longer toast wait. The default reproduces the site's observed
	// timing; slow accounts can raise followTimeoutMs.
	follow := w.cfg.Automation.FollowTimeout()
	modalWait := 2 * time.Second
	if follow < modalWait {
		modalWait = follow
	}
	if text, err := w.page.Text(ctx, sel.OrderAlertModal, modalWait); err == nil {
		return w.resolveConfirmation(res, strings.TrimSpace(text), "modal")
	}

	toastWait := follow - modalWait
	if toastWait <= 0 {
		toastWait = follow
	}
	if text, err := w.page.Text(ctx, sel.OrderStatusToast, toastWait); err == nil {
		return w.resolveToast(res, strings.TrimSpace(text))
	}

	// No modal, no toast. The page body sometimes carries the status.
	html, _ := w.page.HTML(ctx)
	lower := strings.ToLower(html)
	switch {
	case strings.Contains(lower, "duplicate"):
		return classify.Permanentf("follow-up failed, order is a duplicate")
	case containsAny(lower, "suivi", "réussi", "success"):
		res.ToastMessage = "success found in page content"
		return nil
	default:
		w.saveDebugHTML(ctx, model.StepExecuteFollowUp)
		// Risky assumption, kept deliberately: total silence after the
		// click has historically meant the order went through.
		w.log.Warn("no status message found after follow-up, assuming success", nil)
		res.ToastMessage = "status message not found, but action may have succeeded"
		return nil
	}
}

// resolveConfirmation maps the alert dialog text to an outcome. Unknown
// messages fail closed: guessing wrong about a trade is worse than
// skipping one.
func (w *Workflow) resolveConfirmation(res *model.StepResult, text, source string) error {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "not exist", "completed", "not found"):
		return classify.Permanentf("order failed, does not exist or already completed: %s", text)
	case strings.Contains(lower, "duplicate"):
		return classify.Permanentf("order failed, duplicate (already followed): %s", text)
	case containsAny(lower, "success", "suivi", "réussi", "followed"):
		w.log.Info("follow-up confirmed", logbus.Fields{"source": source, "message": text})
		res.ToastMessage = "Success: " + text
		return nil
	default:
		return classify.Permanentf("unknown confirmation message, treating as failure: %s", text)
	}
}

func (w *Workflow) resolveToast(res *model.StepResult, text string) error {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "succesfully followed", "suivi réussi", "success", "suivi"):
		w.log.Info("follow-up confirmed", logbus.Fields{"source": "toast", "message": text})
		res.ToastMessage = text
		return nil
	case containsAny(lower, "not exist", "duplicate"):
		return classify.Permanentf("follow-up failed, order may not exist or is a duplicate: %s", text)
	case containsAny(lower, "completed", "failed"):
		return classify.Temporaryf("follow-up failed: %s", text)
	default:
		return classify.Temporaryf("unclear follow-up result: %s", text)
	}
}

func (w *Workflow) persistSession() {
	if w.exportState == nil || !w.sessions.Enabled() {
		return
	}
	state, err := w.exportState()
	if err != nil {
		w.log.Warn("failed to capture session state", logbus.Fields{"error": err.Error()})
		return
	}
	if err := w.sessions.Save(w.account.AccountName, state); err != nil {
		w.log.Warn("failed to save session state", logbus.Fields{"error": err.Error()})
		return
	}
	w.log.Info("session state saved", logbus.Fields{"path": w.sessions.Path(w.account.AccountName)})
}

func (w *Workflow) waitURLLeavesLogin(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !onLoginPage(w.page.URL()) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (w *Workflow) pageShowsError(ctx context.Context) bool {
	html, err := w.page.HTML(ctx)
	if err != nil {
		return false
	}
	return containsAny(strings.ToLower(html), "incorrect", "invalid", "wrong password", "wrong credentials")
}

func (w *Workflow) saveDebugHTML(ctx context.Context, step model.Step) {
	if !w.cfg.Automation.SaveDebugHTML {
		return
	}
	html, err := w.page.HTML(ctx)
	if err != nil {
		w.log.Warn("failed to capture page html", logbus.Fields{"error": err.Error()})
		return
	}
	name := fmt.Sprintf("debug_%s_%s_error.html", w.account.AccountName, step)
	path := filepath.Join(w.cfg.Automation.DebugHTMLDir, name)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		w.log.Warn("failed to save page html", logbus.Fields{"error": err.Error()})
		return
	}
	w.log.Info("saved page html for debugging", logbus.Fields{"path": path})
}

// finish stamps the report and pads the run out to the configured
// minimum duration, which makes runs look less bot-like to the site.
func (w *Workflow) finish(ctx context.Context, report *model.WorkflowReport) {
	report.Finalize()
	if !w.cfg.Automation.EnforceMinRunPerAccount {
		return
	}
	remaining := w.cfg.Automation.MinRun() - report.Duration
	if remaining <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(remaining):
	}
	report.Finalize()
}

func onLoginPage(url string) bool {
	lower := strings.ToLower(url)
	return strings.Contains(lower, "/login") || strings.Contains(lower, "login-page")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
