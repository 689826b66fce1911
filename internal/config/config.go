package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env  string `yaml:"app_env"`
		Name string `yaml:"name"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
		// RateLimit limita escrituras HTTP por IP. max 0 = sin límite.
		RateLimit struct {
			Max       int    `yaml:"max"`
			Window    string `yaml:"window"`
			RedisAddr string `yaml:"redis_addr"` // vacío = limiter en memoria
		} `yaml:"rate_limit"`
	} `yaml:"server"`

	Repositories []Repository `yaml:"repositories"`

	Sources struct {
		Strategy string `yaml:"strategy"` // override | merge | first_wins | last_wins
		Fallback string `yaml:"fallback"` // fail_fast | skip_failed | use_cache
		CacheTTL string `yaml:"cache_ttl"`
		Cache    struct {
			Kind  string `yaml:"kind"` // memory | redis
			Redis struct {
				Addr     string `yaml:"addr"`
				Password string `yaml:"password"`
				DB       int    `yaml:"db"`
				Prefix   string `yaml:"prefix"`
			} `yaml:"redis"`
		} `yaml:"cache"`
	} `yaml:"sources"`

	Sync struct {
		Local      string   `yaml:"local"`
		Remote     string   `yaml:"remote"`
		Strategy   string   `yaml:"strategy"`   // full | incremental | selective
		Direction  string   `yaml:"direction"`  // pull | push | bidirectional
		Resolution string   `yaml:"resolution"` // server_wins | client_wins | merge_values | manual | abort
		Interval   string   `yaml:"interval"`   // "" = sin loop de fondo
		Workers    int      `yaml:"workers"`
		Namespaces []string `yaml:"namespaces"`
	} `yaml:"sync"`

	VCS struct {
		StatePath     string   `yaml:"state_path"`
		DefaultBranch string   `yaml:"default_branch"`
		Protected     []string `yaml:"protected"`
	} `yaml:"vcs"`

	Events struct {
		RedisAddr    string `yaml:"redis_addr"`
		RedisChannel string `yaml:"redis_channel"`
	} `yaml:"events"`
}

// Repository describe un backend de configuración.
type Repository struct {
	Name     string `yaml:"name"`
	Driver   string `yaml:"driver"` // memory | fs | redis | pg | mysql | raft
	Priority int    `yaml:"priority"`
	ReadOnly bool   `yaml:"readonly"`

	Path     string `yaml:"path"` // fs
	DSN      string `yaml:"dsn"`  // pg | mysql
	Addr     string `yaml:"addr"` // redis
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`

	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`

	Raft struct {
		NodeID           string            `yaml:"node_id"`
		Addr             string            `yaml:"addr"`
		Dir              string            `yaml:"dir"`
		Peers            map[string]string `yaml:"peers"` // nodeID -> host:port
		Bootstrap        bool              `yaml:"bootstrap"`
		DisableBootstrap bool              `yaml:"disable_bootstrap"`

		// TLS for Raft transport (optional, mTLS when enabled)
		TLSEnable     bool   `yaml:"tls_enable"`
		TLSCertFile   string `yaml:"tls_cert_file"`
		TLSKeyFile    string `yaml:"tls_key_file"`
		TLSCAFile     string `yaml:"tls_ca_file"`
		TLSServerName string `yaml:"tls_server_name"`
	} `yaml:"raft"`
}

var (
	drivers     = []string{"memory", "fs", "redis", "pg", "mysql", "raft"}
	strategies  = []string{"override", "merge", "first_wins", "last_wins"}
	fallbacks   = []string{"fail_fast", "skip_failed", "use_cache"}
	syncModes   = []string{"full", "incremental", "selective"}
	directions  = []string{"pull", "push", "bidirectional"}
	resolutions = []string{"server_wins", "client_wins", "merge_values", "manual", "abort"}
)

// Load lee path (si no es vacío), aplica defaults y overrides de entorno y valida.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	// paths relativos respecto al directorio del YAML
	if path != "" {
		base := filepath.Dir(path)
		for i := range c.Repositories {
			c.Repositories[i].Path = resolve(base, c.Repositories[i].Path)
			c.Repositories[i].Raft.Dir = resolve(base, c.Repositories[i].Raft.Dir)
		}
		c.VCS.StatePath = resolve(base, c.VCS.StatePath)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "cfgvault"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateLimit.Window == "" {
		c.Server.RateLimit.Window = "1m"
	}
	if len(c.Repositories) == 0 {
		c.Repositories = []Repository{{Name: "default", Driver: "memory"}}
	}
	for i := range c.Repositories {
		r := &c.Repositories[i]
		r.Driver = strings.ToLower(strings.TrimSpace(r.Driver))
		if r.Name == "" {
			r.Name = r.Driver
		}
		if r.Driver == "raft" && r.Raft.NodeID == "" {
			r.Raft.NodeID = r.Name
		}
	}

	c.Sources.Strategy = lower(c.Sources.Strategy, "override")
	c.Sources.Fallback = lower(c.Sources.Fallback, "skip_failed")
	if c.Sources.CacheTTL == "" {
		c.Sources.CacheTTL = "30s"
	}
	c.Sources.Cache.Kind = lower(c.Sources.Cache.Kind, "memory")

	c.Sync.Strategy = lower(c.Sync.Strategy, "full")
	c.Sync.Direction = lower(c.Sync.Direction, "bidirectional")
	c.Sync.Resolution = lower(c.Sync.Resolution, "server_wins")
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 8
	}

	if c.VCS.DefaultBranch == "" {
		c.VCS.DefaultBranch = "main"
	}
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = "cfgvault:changes"
	}
}

// Validate verifica enums, durations y referencias entre secciones.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	names := make(map[string]bool, len(c.Repositories))
	for _, r := range c.Repositories {
		if names[r.Name] {
			add("duplicate repository name %q", r.Name)
		}
		names[r.Name] = true
		if !oneOf(r.Driver, drivers) {
			add("repository %q: unknown driver %q", r.Name, r.Driver)
		}
		switch r.Driver {
		case "fs":
			if r.Path == "" {
				add("repository %q: fs requires path", r.Name)
			}
		case "pg", "mysql":
			if r.DSN == "" {
				add("repository %q: %s requires dsn", r.Name, r.Driver)
			}
		case "raft":
			if r.Raft.Addr == "" || r.Raft.Dir == "" {
				add("repository %q: raft requires raft.addr and raft.dir", r.Name)
			}
		}
		if r.ConnMaxLifetime != "" {
			if _, err := time.ParseDuration(r.ConnMaxLifetime); err != nil {
				add("repository %q: conn_max_lifetime: %v", r.Name, err)
			}
		}
	}

	if d, err := time.ParseDuration(c.Server.RateLimit.Window); err != nil || d <= 0 {
		add("server.rate_limit.window: invalid %q", c.Server.RateLimit.Window)
	}
	if c.Server.RateLimit.Max < 0 {
		add("server.rate_limit.max: must not be negative")
	}

	if !oneOf(c.Sources.Strategy, strategies) {
		add("sources.strategy: unknown %q", c.Sources.Strategy)
	}
	if !oneOf(c.Sources.Fallback, fallbacks) {
		add("sources.fallback: unknown %q", c.Sources.Fallback)
	}
	if !oneOf(c.Sources.Cache.Kind, []string{"memory", "redis"}) {
		add("sources.cache.kind: unknown %q", c.Sources.Cache.Kind)
	}
	if _, err := time.ParseDuration(c.Sources.CacheTTL); err != nil {
		add("sources.cache_ttl: %v", err)
	}

	if !oneOf(c.Sync.Strategy, syncModes) {
		add("sync.strategy: unknown %q", c.Sync.Strategy)
	}
	if !oneOf(c.Sync.Direction, directions) {
		add("sync.direction: unknown %q", c.Sync.Direction)
	}
	if !oneOf(c.Sync.Resolution, resolutions) {
		add("sync.resolution: unknown %q", c.Sync.Resolution)
	}
	if c.Sync.Interval != "" {
		if d, err := time.ParseDuration(c.Sync.Interval); err != nil || d <= 0 {
			add("sync.interval: invalid %q", c.Sync.Interval)
		}
	}
	if c.Sync.Local != "" && !names[c.Sync.Local] {
		add("sync.local: unknown repository %q", c.Sync.Local)
	}
	if c.Sync.Remote != "" && !names[c.Sync.Remote] {
		add("sync.remote: unknown repository %q", c.Sync.Remote)
	}
	if (c.Sync.Local == "") != (c.Sync.Remote == "") {
		add("sync: local and remote must be set together")
	}
	if c.Sync.Local != "" && c.Sync.Local == c.Sync.Remote {
		add("sync: local and remote must differ")
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// CacheTTL retorna sources.cache_ttl ya validado.
func (c *Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.Sources.CacheTTL)
	return d
}

// RateLimitWindow retorna server.rate_limit.window ya validado.
func (c *Config) RateLimitWindow() time.Duration {
	d, _ := time.ParseDuration(c.Server.RateLimit.Window)
	return d
}

// SyncInterval retorna sync.interval; 0 si no hay loop de fondo.
func (c *Config) SyncInterval() time.Duration {
	d, _ := time.ParseDuration(c.Sync.Interval)
	return d
}

// Repository busca un repositorio por nombre.
func (c *Config) Repository(name string) (Repository, bool) {
	for _, r := range c.Repositories {
		if r.Name == name {
			return r, true
		}
	}
	return Repository{}, false
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// envName arma CFGVAULT_REPO_<NAME>_<FIELD> con el nombre normalizado.
func envName(repo, field string) string {
	n := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(repo))
	return "CFGVAULT_REPO_" + n + "_" + field
}

// applyEnvOverrides: pisa config.yaml con variables de entorno CFGVAULT_*.
func (c *Config) applyEnvOverrides() {
	// APP / LOG / SERVER
	if v, ok := getEnvStr("CFGVAULT_APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("CFGVAULT_LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvStr("CFGVAULT_SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvInt("CFGVAULT_RATE_LIMIT_MAX"); ok {
		c.Server.RateLimit.Max = v
	}
	if v, ok := getEnvStr("CFGVAULT_RATE_LIMIT_REDIS_ADDR"); ok {
		c.Server.RateLimit.RedisAddr = v
	}

	// REPOSITORIES: sólo secretos y endpoints, por nombre
	for i := range c.Repositories {
		r := &c.Repositories[i]
		if v, ok := getEnvStr(envName(r.Name, "DSN")); ok {
			r.DSN = v
		}
		if v, ok := getEnvStr(envName(r.Name, "ADDR")); ok {
			r.Addr = v
		}
		if v, ok := getEnvStr(envName(r.Name, "PASSWORD")); ok {
			r.Password = v
		}
	}

	// SOURCES
	if v, ok := getEnvStr("CFGVAULT_SOURCES_STRATEGY"); ok {
		c.Sources.Strategy = v
	}
	if v, ok := getEnvStr("CFGVAULT_SOURCES_FALLBACK"); ok {
		c.Sources.Fallback = v
	}
	if v, ok := getEnvStr("CFGVAULT_SOURCES_CACHE_TTL"); ok {
		c.Sources.CacheTTL = v
	}
	if v, ok := getEnvStr("CFGVAULT_CACHE_KIND"); ok {
		c.Sources.Cache.Kind = v
	}
	if v, ok := getEnvStr("CFGVAULT_REDIS_ADDR"); ok {
		c.Sources.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("CFGVAULT_REDIS_DB"); ok {
		c.Sources.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("CFGVAULT_REDIS_PREFIX"); ok {
		c.Sources.Cache.Redis.Prefix = v
	}

	// SYNC
	if v, ok := getEnvStr("CFGVAULT_SYNC_STRATEGY"); ok {
		c.Sync.Strategy = v
	}
	if v, ok := getEnvStr("CFGVAULT_SYNC_DIRECTION"); ok {
		c.Sync.Direction = v
	}
	if v, ok := getEnvStr("CFGVAULT_SYNC_RESOLUTION"); ok {
		c.Sync.Resolution = v
	}
	if v, ok := getEnvStr("CFGVAULT_SYNC_INTERVAL"); ok {
		c.Sync.Interval = v
	}
	if v, ok := getEnvInt("CFGVAULT_SYNC_WORKERS"); ok {
		c.Sync.Workers = v
	}
	if v, ok := getEnvCSV("CFGVAULT_SYNC_NAMESPACES"); ok {
		c.Sync.Namespaces = v
	}

	// VCS / EVENTS
	if v, ok := getEnvStr("CFGVAULT_VCS_STATE_PATH"); ok {
		c.VCS.StatePath = v
	}
	if v, ok := getEnvCSV("CFGVAULT_VCS_PROTECTED"); ok {
		c.VCS.Protected = v
	}
	if v, ok := getEnvStr("CFGVAULT_EVENTS_REDIS_ADDR"); ok {
		c.Events.RedisAddr = v
	}
	if v, ok := getEnvStr("CFGVAULT_EVENTS_REDIS_CHANNEL"); ok {
		c.Events.RedisChannel = v
	}
}

func lower(v, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
