// Package pennyconfig loads and validates the TOML configuration file
// described in §6: a handful of top-level keys plus one table per app,
// keyed by hostname.
package pennyconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/frectonz/penny/util"
)

// TLS mirrors the [tls] table.
type TLS struct {
	Enabled                   bool   `toml:"enabled"`
	AcmeEmail                 string `toml:"acme_email"`
	Staging                   bool   `toml:"staging"`
	CertsDir                  string `toml:"certs_dir"`
	RenewalDays               int    `toml:"renewal_days"`
	RenewalCheckIntervalHours int    `toml:"renewal_check_interval_hours"`
}

func (t *TLS) setDefaults() {
	if t.CertsDir == "" {
		t.CertsDir = "./certs"
	}
	if t.RenewalDays == 0 {
		t.RenewalDays = 30
	}
	if t.RenewalCheckIntervalHours == 0 {
		t.RenewalCheckIntervalHours = 12
	}
}

// Command is either a single shell string (start-only, stopped via signal)
// or a {start, end} pair, per §3. TOML doesn't let one field hold either a
// string or a table, so UnmarshalTOML is implemented by hand below.
type Command struct {
	Start string
	End   string // empty: stop via signal instead of running End
}

// UnmarshalTOML accepts either a bare string or a {start = "...", end =
// "..."} inline table.
func (c *Command) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		c.Start = v
		return nil
	case map[string]any:
		if s, ok := v["start"].(string); ok {
			c.Start = s
		} else {
			return fmt.Errorf("command table missing \"start\"")
		}
		if e, ok := v["end"].(string); ok {
			c.End = e
		}
		return nil
	default:
		return fmt.Errorf("command must be a string or {start, end} table, got %T", data)
	}
}

// Backoff mirrors the health backoff {initial_ms, max_secs} pair from §3.
type Backoff struct {
	InitialMs int `toml:"initial_ms"`
	MaxSecs   int `toml:"max_secs"`
}

func (b Backoff) setDefaults() Backoff {
	if b.InitialMs == 0 {
		b.InitialMs = 200
	}
	if b.MaxSecs == 0 {
		b.MaxSecs = 5
	}
	return b
}

// App mirrors one app table, keyed by hostname in the parent map.
type App struct {
	Address         string        `toml:"address"`
	Command         Command       `toml:"command"`
	HealthCheckPath string        `toml:"health_check_path"`
	Backoff         Backoff       `toml:"backoff"`
	WaitPeriod      util.Duration `toml:"wait_period"`
	AdaptiveWait    bool          `toml:"adaptive_wait"`
	MinWait         util.Duration `toml:"min_wait"`
	MaxWait         util.Duration `toml:"max_wait"`
	LowRate         float64       `toml:"low_rate"`
	HighRate        float64       `toml:"high_rate"`
	StartTimeout    util.Duration `toml:"start_timeout"`
	StopTimeout     util.Duration `toml:"stop_timeout"`
	ColdStartPage   bool          `toml:"cold_start_page"`
	AlsoWarm        []string      `toml:"also_warm"`
}

func (a *App) setDefaults() {
	a.Backoff = a.Backoff.setDefaults()
	if a.HealthCheckPath == "" {
		a.HealthCheckPath = "/"
	}
	if a.WaitPeriod.IsZero() && !a.AdaptiveWait {
		a.WaitPeriod = util.Duration(10 * time.Minute)
	}
	if a.StartTimeout.IsZero() {
		a.StartTimeout = util.Duration(30 * time.Second)
	}
	if a.StopTimeout.IsZero() {
		a.StopTimeout = util.Duration(10 * time.Second)
	}
}

// Validate checks the adaptive-wait invariant from §3.
func (a App) Validate(host string) error {
	if a.Address == "" {
		return fmt.Errorf("app %q: address is required", host)
	}
	if a.Command.Start == "" {
		return fmt.Errorf("app %q: command is required", host)
	}
	if a.AdaptiveWait {
		if a.MinWait > a.MaxWait {
			return fmt.Errorf("app %q: min_wait must be <= max_wait", host)
		}
		if a.LowRate >= a.HighRate {
			return fmt.Errorf("app %q: low_rate must be < high_rate", host)
		}
	}
	return nil
}

// File is the top-level decoded TOML document. Apps holds every table key
// that isn't one of the reserved top-level keys above.
type File struct {
	APIAddress  string `toml:"api_address"`
	APIDomain   string `toml:"api_domain"`
	DatabaseURL string `toml:"database_url"`
	TLS         TLS    `toml:"tls"`

	Apps map[string]App `toml:"-"`
}

func (f *File) setDefaults() {
	if f.DatabaseURL == "" {
		f.DatabaseURL = "sqlite://penny.db"
	}
	f.TLS.setDefaults()
}

// reservedKeys are the top-level keys that are not app tables.
var reservedKeys = map[string]struct{}{
	"api_address":  {},
	"api_domain":   {},
	"database_url": {},
	"tls":          {},
}

// Load reads and parses the config file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pennyconfig: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw TOML bytes into a File, splitting reserved top-level
// keys from app tables and validating every app.
func Parse(data []byte) (*File, error) {
	var raw map[string]toml.Primitive
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("pennyconfig: parse: %w", err)
	}

	f := &File{Apps: make(map[string]App)}
	for key, prim := range raw {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		var app App
		if err := meta.PrimitiveDecode(prim, &app); err != nil {
			return nil, fmt.Errorf("pennyconfig: app %q: %w", key, err)
		}
		app.setDefaults()
		if err := app.Validate(key); err != nil {
			return nil, err
		}
		f.Apps[key] = app
	}

	hosts := make(map[string]struct{}, len(f.Apps))
	for host := range f.Apps {
		hosts[strings.ToLower(host)] = struct{}{}
	}
	for host, app := range f.Apps {
		for _, rel := range app.AlsoWarm {
			if _, ok := hosts[strings.ToLower(rel)]; !ok {
				return nil, fmt.Errorf("app %q: also_warm references unknown app %q", host, rel)
			}
		}
	}

	if _, err := toml.Decode(string(data), f); err != nil {
		return nil, fmt.Errorf("pennyconfig: parse top-level: %w", err)
	}
	f.setDefaults()

	return f, nil
}
