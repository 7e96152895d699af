package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/ratemeter/internal/ratelimit"
)

type Server struct {
	Addr           string `yaml:"addr" validate:"required"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms" validate:"gte=0"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms" validate:"gte=0"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms" validate:"gte=0"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes" validate:"gte=0"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	PrometheusPath string `yaml:"prometheus_path" validate:"startswith=/"`
}

// Policy is a GCRA policy as written in the file. Period uses Go duration
// syntax ("1s", "1m30s").
type Policy struct {
	Capacity uint32        `yaml:"capacity" validate:"gt=0"`
	Weight   uint32        `yaml:"weight"`
	Period   time.Duration `yaml:"period" validate:"gt=0"`
}

func (p Policy) Policy() ratelimit.Policy {
	return ratelimit.Policy{Capacity: p.Capacity, Weight: p.Weight, Period: p.Period}
}

type Limits struct {
	Default Policy `yaml:"default"`
	// CostHeader names the request header carrying the number of cells a
	// request consumes.
	CostHeader    string        `yaml:"cost_header" validate:"required"`
	EvictInterval time.Duration `yaml:"evict_interval" validate:"gt=0"`
	MaxIdle       time.Duration `yaml:"max_idle" validate:"gt=0"`
}

type APIKey struct {
	ID       string            `yaml:"id" validate:"required"`
	Secret   string            `yaml:"secret" validate:"required"`
	Metadata map[string]string `yaml:"metadata"`
}

type Auth struct {
	Header         string   `yaml:"header" validate:"required"`
	AllowAnonymous bool     `yaml:"allow_anonymous"`
	Keys           []APIKey `yaml:"keys" validate:"dive"`
}

type Match struct {
	PathPrefix string   `yaml:"path_prefix" validate:"required,startswith=/"`
	Methods    []string `yaml:"methods"`
}

type Upstream struct {
	URL       string `yaml:"url" validate:"required,url"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"gte=0"`
}

func (u Upstream) Timeout() time.Duration {
	return time.Duration(u.TimeoutMS) * time.Millisecond
}

type Route struct {
	ID        string            `yaml:"id" validate:"required"`
	Match     Match             `yaml:"match"`
	Upstream  Upstream          `yaml:"upstream"`
	Limit     *Policy           `yaml:"limit"`
	Overrides map[string]Policy `yaml:"overrides" validate:"dive"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
	Routes        []Route       `yaml:"routes" validate:"dive"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document, fills defaults and validates the result.
func Parse(b []byte) (*Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Root) applyDefaults() {
	for i := range c.Routes {
		if c.Routes[i].Upstream.TimeoutMS <= 0 {
			c.Routes[i].Upstream.TimeoutMS = 3000
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	c.Observability.LogLevel = strings.ToLower(c.Observability.LogLevel)
	if c.Observability.PrometheusPath == "" {
		c.Observability.PrometheusPath = "/metrics"
	}
	if c.Auth.Header == "" {
		c.Auth.Header = "X-API-Key"
	}
	if c.Limits.Default.Capacity == 0 {
		c.Limits.Default.Capacity = 60
	}
	if c.Limits.Default.Period == 0 {
		c.Limits.Default.Period = time.Minute
	}
	if c.Limits.Default.Weight == 0 {
		c.Limits.Default.Weight = 1
	}
	if c.Limits.CostHeader == "" {
		c.Limits.CostHeader = "X-RateLimit-Cost"
	}
	if c.Limits.EvictInterval == 0 {
		c.Limits.EvictInterval = time.Minute
	}
	if c.Limits.MaxIdle == 0 {
		c.Limits.MaxIdle = 10 * time.Minute
	}
}

// Validate checks struct tags, then derives GCRA parameters for every
// policy so an unusable policy fails at startup instead of per request.
func (c *Root) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if _, err := c.Limits.Default.Policy().Parameters(); err != nil {
		return fmt.Errorf("limits.default: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Routes))
	for i, rt := range c.Routes {
		if _, dup := seen[rt.ID]; dup {
			return fmt.Errorf("routes[%d]: duplicate route id %q", i, rt.ID)
		}
		seen[rt.ID] = struct{}{}

		if rt.Limit != nil {
			if _, err := rt.Limit.Policy().Parameters(); err != nil {
				return fmt.Errorf("routes[%d] (%s).limit: %w", i, rt.ID, err)
			}
		}
		for subject, o := range rt.Overrides {
			if _, err := o.Policy().Parameters(); err != nil {
				return fmt.Errorf("routes[%d] (%s).overrides[%s]: %w", i, rt.ID, subject, err)
			}
		}
	}

	keys := make(map[string]struct{}, len(c.Auth.Keys))
	for i, k := range c.Auth.Keys {
		if _, dup := keys[k.Secret]; dup {
			return fmt.Errorf("auth.keys[%d] (%s): secret reused", i, k.ID)
		}
		keys[k.Secret] = struct{}{}
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.TrimPrefix(e.Namespace(), "Root.")
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, e.Tag(), e.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, e.Tag()))
		}
	}
	return errors.New("invalid config: " + strings.Join(msgs, "; "))
}
