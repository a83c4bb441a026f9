// Package setup is the interactive configuration wizard.
package setup

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/coinverse/config"
)

// DefaultPath is where the wizard writes when no -config path is given.
const DefaultPath = "coinverse.yaml"

const title = "COINVERSE CONFIG WIZARD"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers are the wizard's raw inputs.
type Answers struct {
	Addr            string
	TLSDomains      string
	APIKey          string
	RefreshInterval string
	HistoryDays     string
	DataDir         string
	LogFormat       string
}

// DefaultAnswers prefills the wizard from the built-in defaults.
func DefaultAnswers() Answers {
	d := config.Default()
	return Answers{
		Addr:            d.Server.Addr,
		RefreshInterval: d.Refresh.Interval.String(),
		HistoryDays:     strconv.Itoa(d.CoinGecko.HistoryDays),
		DataDir:         "./data",
		LogFormat:       d.Log.Format,
	}
}

// Config turns answers into a validated configuration.
func (a Answers) Config() (config.Config, error) {
	cfg := config.Default()

	cfg.Server.Addr = strings.TrimSpace(a.Addr)
	for _, d := range strings.Split(a.TLSDomains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			cfg.Server.TLSDomains = append(cfg.Server.TLSDomains, d)
		}
	}
	cfg.CoinGecko.APIKey = strings.TrimSpace(a.APIKey)

	interval, err := time.ParseDuration(strings.TrimSpace(a.RefreshInterval))
	if err != nil {
		return config.Config{}, errors.Wrap(err, "refresh interval")
	}
	cfg.Refresh.Interval = interval

	days, err := strconv.Atoi(strings.TrimSpace(a.HistoryDays))
	if err != nil {
		return config.Config{}, errors.Wrap(err, "history days")
	}
	cfg.CoinGecko.HistoryDays = days

	if dir := strings.TrimSpace(a.DataDir); dir != "" {
		cfg.Cache.Dir = filepath.Join(dir, "cache")
		cfg.Chat.Dir = filepath.Join(dir, "chat")
		cfg.Auth.UsersFile = filepath.Join(dir, "users.json")
		if len(cfg.Server.TLSDomains) > 0 {
			cfg.Server.CertCacheDir = filepath.Join(dir, "cert-cache")
		}
	}
	if a.LogFormat != "" {
		cfg.Log.Format = a.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as yaml to path, replacing the file atomically.
func Save(path string, cfg config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create config dir")
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write config")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "replace config")
	}
	return nil
}

func clearScreen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI asks for the main settings and writes them to path. It returns the
// path written.
func RunTUI(path string) (string, error) {
	if path == "" {
		path = DefaultPath
	}
	a := DefaultAnswers()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(title))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Top 100 coins, charts and chat in one place.\n"))

	// server
	fmt.Println(stepStyle.Render("STEP 1: SERVER"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("host:port, e.g. :8080 or :443 with TLS").
				Value(&a.Addr).
				Validate(validateAddr),
			huh.NewInput().
				Title("TLS domains").
				Description("Comma separated; leave empty to serve plain HTTP").
				Value(&a.TLSDomains),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// market data
	clearScreen("STEP 2: MARKET DATA")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("CoinGecko API key").
				Description("Optional demo key").
				Value(&a.APIKey).
				EchoMode(huh.EchoModePassword),
			huh.NewInput().
				Title("Refresh interval").
				Description("Duration string (e.g. 30s, 1m)").
				Value(&a.RefreshInterval).
				Validate(validateDuration),
			huh.NewInput().
				Title("Chart history days").
				Value(&a.HistoryDays).
				Validate(validatePositiveInt),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// storage and logs
	clearScreen("STEP 3: STORAGE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Cache, chat log and accounts live here").
				Value(&a.DataDir),
			huh.NewSelect[string]().
				Title("Log format").
				Options(
					huh.NewOption("JSON", "json"),
					huh.NewOption("Console", "console"),
				).
				Value(&a.LogFormat),
		),
	).Run()
	if err != nil {
		return "", err
	}

	cfg, err := a.Config()
	if err != nil {
		return "", err
	}

	clearScreen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Address: %s\nTLS: %s\nRefresh: %s\nHistory: %d days\nData: %s\n",
		cfg.Server.Addr, orNone(strings.Join(cfg.Server.TLSDomains, ", ")),
		cfg.Refresh.Interval, cfg.CoinGecko.HistoryDays, a.DataDir,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", errors.New("setup cancelled by user")
	}

	if err := Save(path, cfg); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	return path, nil
}

func validateAddr(s string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("must be host:port")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a duration like 30s")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive whole number")
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
