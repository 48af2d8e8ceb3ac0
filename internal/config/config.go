package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Site       SiteConfig       `yaml:"site"`
	Selectors  SelectorsConfig  `yaml:"selectors"`
	Automation AutomationConfig `yaml:"automation"`
	Retry      RetryConfig      `yaml:"retry"`
	Limits     LimitsConfig     `yaml:"limits"`
	Accounts   AccountsConfig   `yaml:"accounts"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Email      EmailConfig      `yaml:"email"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath     string `yaml:"sqlitePath"`
	SessionDir     string `yaml:"sessionDir"`
	SessionEnabled *bool  `yaml:"sessionEnabled"`
}

func (c StorageConfig) SessionsEnabled() bool {
	return c.SessionEnabled == nil || *c.SessionEnabled
}

type SiteConfig struct {
	BaseURL   string `yaml:"baseURL"`
	LoginURL  string `yaml:"loginURL"`
	TradePath string `yaml:"tradePath"`
}

// TradeURL is the fixed contract page the workflow navigates to.
func (c SiteConfig) TradeURL() string {
	base := c.BaseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + c.TradePath
}

// SelectorsConfig carries every selector the workflow touches. Selectors
// are data, never logic: the site owns them and they change without notice.
type SelectorsConfig struct {
	LoginUsernameInput string `yaml:"loginUsernameInput"`
	LoginPasswordInput string `yaml:"loginPasswordInput"`
	LoginSubmitButton  string `yaml:"loginSubmitButton"`
	PostLoginMarker    string `yaml:"postLoginMarker"`
	ContractMarker     string `yaml:"contractMarker"`
	CopyTradingButton  string `yaml:"copyTradingButton"`
	OrderNumberInput   string `yaml:"orderNumberInput"`
	FollowOrderButton  string `yaml:"followOrderButton"`
	OrderAlertModal    string `yaml:"orderAlertModal"`
	OrderStatusToast   string `yaml:"orderStatusToast"`
	CookieAcceptButton string `yaml:"cookieAcceptButton"`
}

type AutomationConfig struct {
	DefaultTimeoutMs int   `yaml:"defaultTimeoutMs"`
	FollowTimeoutMs  int   `yaml:"followTimeoutMs"`
	Headless         *bool `yaml:"headless"`
	// Performant blocks images/fonts/media and known analytics hosts.
	Performant bool `yaml:"performant"`
	// LowResource adds Chromium flags for small RAM/CPU machines.
	LowResource               *bool    `yaml:"lowResource"`
	LaunchArgs                []string `yaml:"launchArgs"`
	SaveDebugHTML             bool     `yaml:"saveDebugHTML"`
	DebugHTMLDir              string   `yaml:"debugHTMLDir"`
	MaxConcurrent             int      `yaml:"maxConcurrentAccounts"`
	ConfirmLive               *bool    `yaml:"confirmLiveTrades"`
	EnforceMinRunPerExecution bool     `yaml:"enforceMinRunPerExecution"`
	EnforceMinRunPerAccount   bool     `yaml:"enforceMinRunPerAccount"`
	MinRunSeconds             int      `yaml:"minRunSeconds"`
}

func (c AutomationConfig) DefaultTimeout() time.Duration {
	if c.DefaultTimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// FollowTimeout bounds the follow-up confirmation waits (alert probe
// plus toast). The default matches the site's observed timing: 2s for
// the alert, 5s for the toast.
func (c AutomationConfig) FollowTimeout() time.Duration {
	if c.FollowTimeoutMs <= 0 {
		return 7 * time.Second
	}
	return time.Duration(c.FollowTimeoutMs) * time.Millisecond
}

func (c AutomationConfig) IsHeadless() bool    { return c.Headless == nil || *c.Headless }
func (c AutomationConfig) IsLowResource() bool { return c.LowResource == nil || *c.LowResource }

func (c AutomationConfig) ConfirmLiveTrades() bool {
	return c.ConfirmLive == nil || *c.ConfirmLive
}

func (c AutomationConfig) MinRun() time.Duration {
	if c.MinRunSeconds <= 0 {
		return 0
	}
	return time.Duration(c.MinRunSeconds) * time.Second
}

type RetryConfig struct {
	MaxAttempts int     `yaml:"maxAttempts"`
	BaseDelayMs int     `yaml:"baseDelayMs"`
	Factor      float64 `yaml:"factor"`
}

func (c RetryConfig) BaseDelay() time.Duration {
	if c.BaseDelayMs <= 0 {
		return 1 * time.Second
	}
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

type LimitsConfig struct {
	NavQPS   float64 `yaml:"navQPS"`
	NavBurst int     `yaml:"navBurst"`
}

type AccountsConfig struct {
	File string `yaml:"file"`
}

type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	LockFile string `yaml:"lockFile"`
	PollSec  int    `yaml:"pollSec"`
}

func (c TelegramConfig) PollTimeout() time.Duration {
	if c.PollSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PollSec) * time.Second
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtpHost"`
	SMTPPort int    `yaml:"smtpPort"`
	From     string `yaml:"from"`
	AuthCode string `yaml:"authCode"`
	To       string `yaml:"to"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a ready-to-run configuration without reading a file.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8000"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/ttuex_bot.db"
	}
	if c.Storage.SessionDir == "" {
		c.Storage.SessionDir = "./storage_states"
	}
	if c.Site.BaseURL == "" {
		c.Site.BaseURL = "https://ttuex.club"
	}
	if c.Site.LoginURL == "" {
		c.Site.LoginURL = "https://ttuex.club/login-page?redirect=/pc-home"
	}
	if c.Site.TradePath == "" {
		c.Site.TradePath = "/trade/btc"
	}
	if c.Selectors.LoginUsernameInput == "" {
		c.Selectors.LoginUsernameInput = `input[placeholder="Veuillez saisir votre compte"]`
	}
	if c.Selectors.LoginPasswordInput == "" {
		c.Selectors.LoginPasswordInput = `input[placeholder="S'il vous plaît entrer le mot de passe"]`
	}
	if c.Selectors.LoginSubmitButton == "" {
		c.Selectors.LoginSubmitButton = `button[type="submit"]`
	}
	if c.Selectors.PostLoginMarker == "" {
		c.Selectors.PostLoginMarker = `span.nav-copy-trading`
	}
	if c.Selectors.ContractMarker == "" {
		c.Selectors.ContractMarker = `div.trade-order-list`
	}
	if c.Selectors.CopyTradingButton == "" {
		c.Selectors.CopyTradingButton = `span.tab-copy-trading`
	}
	if c.Selectors.OrderNumberInput == "" {
		c.Selectors.OrderNumberInput = `div.tradelistruning-8 input`
	}
	if c.Selectors.FollowOrderButton == "" {
		c.Selectors.FollowOrderButton = `button.follow-order`
	}
	if c.Selectors.OrderAlertModal == "" {
		c.Selectors.OrderAlertModal = `div[role="dialog"]`
	}
	if c.Selectors.OrderStatusToast == "" {
		c.Selectors.OrderStatusToast = `div.adm-toast-main`
	}
	if c.Selectors.CookieAcceptButton == "" {
		c.Selectors.CookieAcceptButton = `button.cookie-accept`
	}
	if c.Automation.DefaultTimeoutMs <= 0 {
		c.Automation.DefaultTimeoutMs = 20000
	}
	if c.Automation.FollowTimeoutMs <= 0 {
		c.Automation.FollowTimeoutMs = 7000
	}
	if c.Automation.MaxConcurrent <= 0 {
		c.Automation.MaxConcurrent = 1
	}
	if c.Automation.DebugHTMLDir == "" {
		c.Automation.DebugHTMLDir = "."
	}
	if len(c.Automation.LaunchArgs) == 0 {
		c.Automation.LaunchArgs = []string{
			"disable-dev-shm-usage",
			"disable-gpu",
			"disable-background-networking",
			"disable-background-timer-throttling",
			"disable-renderer-backgrounding",
			"no-default-browser-check",
			"no-first-run",
			"disable-extensions",
			"mute-audio",
		}
	}
	if c.Automation.MinRunSeconds <= 0 {
		c.Automation.MinRunSeconds = 120
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Factor < 1 {
		c.Retry.Factor = 2.0
	}
	if c.Limits.NavQPS <= 0 {
		c.Limits.NavQPS = 2
	}
	if c.Limits.NavBurst <= 0 {
		c.Limits.NavBurst = 4
	}
	if c.Accounts.File == "" {
		c.Accounts.File = "accounts.json"
	}
	if c.Telegram.LockFile == "" {
		c.Telegram.LockFile = "bot.lock"
	}
	if c.Email.SMTPPort <= 0 {
		c.Email.SMTPPort = 465
	}
}

func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Site.BaseURL == "" {
		return errors.New("site.baseURL is required")
	}
	if c.Site.LoginURL == "" {
		return errors.New("site.loginURL is required")
	}
	if c.Automation.MaxConcurrent > 10 {
		return errors.New("automation.maxConcurrentAccounts must be <= 10")
	}
	if c.Email.Enabled && (c.Email.From == "" || c.Email.SMTPHost == "") {
		return errors.New("email.from and email.smtpHost are required when email is enabled")
	}
	return nil
}
