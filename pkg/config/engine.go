package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// FieldType is the declared primitive type of a column
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeDate   FieldType = "date"
	TypeStatus FieldType = "status"
)

// EngineConfig describes the columns, date formats and rule table of a cleaning run
type EngineConfig struct {
	RowIDField    string            `yaml:"row_id_field"`
	Fields        []FieldConfig     `yaml:"fields" validate:"required,min=1,dive"`
	DateFormats   []string          `yaml:"date_formats" validate:"required,min=1,dive,required"`
	MinDate       string            `yaml:"min_date" validate:"omitempty,datetime=2006-01-02"`
	MaxDate       string            `yaml:"max_date" validate:"omitempty,datetime=2006-01-02"`
	Policy        PolicyFields      `yaml:"policy"`
	StatusAliases map[string]string `yaml:"status_aliases" validate:"dive,keys,required,endkeys,lapse_status"`
	Rules         []RuleConfig      `yaml:"rules" validate:"dive"`

	layouts []string
	minDate time.Time
	maxDate time.Time
	byName  map[string]int
}

// FieldConfig declares one input column
type FieldConfig struct {
	Name     string            `yaml:"name" validate:"required"`
	Type     FieldType         `yaml:"type" validate:"required,oneof=string int float bool date status"`
	Required bool              `yaml:"required"`
	Default  *string           `yaml:"default"`
	Replace  map[string]string `yaml:"replace"`
}

// PolicyFields binds the policy roles the resolver reasons about to column names
type PolicyFields struct {
	StartDate       string `yaml:"contract_start_date" validate:"required"`
	EndDate         string `yaml:"contract_end_date" validate:"required"`
	Status          string `yaml:"lapse_status" validate:"required"`
	LapseDate       string `yaml:"lapse_date" validate:"required"`
	LastRenewalDate string `yaml:"last_renewal_date"`
}

// RuleConfig enables, orders and parameterises one resolution rule
type RuleConfig struct {
	ID            string `yaml:"id" validate:"required,rule_id"`
	Enabled       *bool  `yaml:"enabled"`
	Priority      int    `yaml:"priority"`
	ToleranceDays int    `yaml:"tolerance_days" validate:"min=0"`
}

// IsEnabled reports whether the rule is switched on (default true)
func (r RuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// KnownRules lists every resolution rule the resolver implements, in default priority order
var KnownRules = []string{
	model.RuleClearUnusableDate,
	model.RuleSwapStartEnd,
	model.RuleLapseRequiresDate,
	model.RuleLapseDateOutOfRange,
	model.RuleActiveHasLapseDate,
	model.RuleRenewalAfterLapse,
}

// DefaultEngineConfig returns the built-in configuration using the canonical policy column names
func DefaultEngineConfig() *EngineConfig {
	cfg := &EngineConfig{
		RowIDField: "policy_id",
		Fields: []FieldConfig{
			{Name: "policy_id", Type: TypeString},
			{Name: "contract_start_date", Type: TypeDate, Required: true},
			{Name: "contract_end_date", Type: TypeDate},
			{Name: "lapse_status", Type: TypeStatus, Required: true},
			{Name: "lapse_date", Type: TypeDate},
		},
		DateFormats: []string{"YYYY-MM-DD", "DD/MM/YYYY", "MM-DD-YYYY"},
		MinDate:     "0001-01-01",
		MaxDate:     "9999-12-31",
		Policy: PolicyFields{
			StartDate: "contract_start_date",
			EndDate:   "contract_end_date",
			Status:    "lapse_status",
			LapseDate: "lapse_date",
		},
		StatusAliases: map[string]string{
			"0": string(model.StatusActive),
			"1": string(model.StatusLapsed),
			"2": string(model.StatusCancelled),
		},
	}
	for i, id := range KnownRules {
		cfg.Rules = append(cfg.Rules, RuleConfig{ID: id, Priority: (i + 1) * 10})
	}
	if err := cfg.Prepare(); err != nil {
		panic(fmt.Sprintf("default engine config is invalid: %v", err))
	}
	return cfg
}

// LoadEngineConfig reads and validates a YAML engine config. An empty path yields the defaults.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	if path == "" {
		return DefaultEngineConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config: %w", err)
	}
	return ParseEngineConfig(data)
}

// ParseEngineConfig decodes YAML into a validated engine config
func ParseEngineConfig(data []byte) (*EngineConfig, error) {
	var cfg EngineConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}

	if cfg.MinDate == "" {
		cfg.MinDate = "0001-01-01"
	}
	if cfg.MaxDate == "" {
		cfg.MaxDate = "9999-12-31"
	}
	if len(cfg.Rules) == 0 {
		for i, id := range KnownRules {
			cfg.Rules = append(cfg.Rules, RuleConfig{ID: id, Priority: (i + 1) * 10})
		}
	}

	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newValidator builds a validator with the engine's custom tags registered
func newValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := v.RegisterValidation("lapse_status", func(fl validator.FieldLevel) bool {
		_, ok := model.ParseLapseStatus(fl.Field().String())
		return ok
	}); err != nil {
		return nil, err
	}
	if err := v.RegisterValidation("rule_id", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		for _, known := range KnownRules {
			if known == id {
				return true
			}
		}
		return false
	}); err != nil {
		return nil, err
	}
	return v, nil
}

// Prepare validates the config and precomputes lookups. It must be called before use.
func (c *EngineConfig) Prepare() error {
	v, err := newValidator()
	if err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}

	c.byName = make(map[string]int, len(c.Fields))
	for i, f := range c.Fields {
		if _, dup := c.byName[f.Name]; dup {
			return fmt.Errorf("invalid engine config: duplicate field %q", f.Name)
		}
		c.byName[f.Name] = i
	}

	if c.RowIDField != "" {
		if f, ok := c.Field(c.RowIDField); !ok || f.Type != TypeString {
			return fmt.Errorf("invalid engine config: row_id_field %q must be a declared string field", c.RowIDField)
		}
	}

	checks := []struct {
		role, name string
		want       FieldType
	}{
		{"contract_start_date", c.Policy.StartDate, TypeDate},
		{"contract_end_date", c.Policy.EndDate, TypeDate},
		{"lapse_status", c.Policy.Status, TypeStatus},
		{"lapse_date", c.Policy.LapseDate, TypeDate},
		{"last_renewal_date", c.Policy.LastRenewalDate, TypeDate},
	}
	for _, chk := range checks {
		if chk.name == "" {
			continue
		}
		f, ok := c.Field(chk.name)
		if !ok {
			return fmt.Errorf("invalid engine config: policy %s column %q is not declared", chk.role, chk.name)
		}
		if f.Type != chk.want {
			return fmt.Errorf("invalid engine config: policy %s column %q must have type %s", chk.role, chk.name, chk.want)
		}
	}

	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if seen[r.ID] {
			return fmt.Errorf("invalid engine config: rule %q listed twice", r.ID)
		}
		seen[r.ID] = true
	}

	c.layouts = make([]string, len(c.DateFormats))
	for i, f := range c.DateFormats {
		c.layouts[i] = TranslateDateFormat(f)
	}

	if c.minDate, err = time.Parse(model.CanonicalDateLayout, c.MinDate); err != nil {
		return fmt.Errorf("invalid engine config: min_date: %w", err)
	}
	if c.maxDate, err = time.Parse(model.CanonicalDateLayout, c.MaxDate); err != nil {
		return fmt.Errorf("invalid engine config: max_date: %w", err)
	}
	if c.maxDate.Before(c.minDate) {
		return errors.New("invalid engine config: max_date is before min_date")
	}

	return nil
}

// Field returns the declaration of a column
func (c *EngineConfig) Field(name string) (FieldConfig, bool) {
	i, ok := c.byName[name]
	if !ok {
		return FieldConfig{}, false
	}
	return c.Fields[i], true
}

// DateFields returns the names of all date columns in declaration order
func (c *EngineConfig) DateFields() []string {
	var out []string
	for _, f := range c.Fields {
		if f.Type == TypeDate {
			out = append(out, f.Name)
		}
	}
	return out
}

// IsPolicyDate reports whether a column is bound to one of the policy date roles
func (c *EngineConfig) IsPolicyDate(name string) bool {
	if name == "" {
		return false
	}
	return name == c.Policy.StartDate || name == c.Policy.EndDate ||
		name == c.Policy.LapseDate || name == c.Policy.LastRenewalDate
}

// Layouts returns the Go time layouts for the accepted date formats, in order
func (c *EngineConfig) Layouts() []string {
	return c.layouts
}

// DateBounds returns the inclusive range of acceptable dates
func (c *EngineConfig) DateBounds() (time.Time, time.Time) {
	return c.minDate, c.maxDate
}

// ResolveStatusAlias maps a raw status string through the aliases, then the canonical names
func (c *EngineConfig) ResolveStatusAlias(raw string) (model.LapseStatus, bool) {
	key := strings.TrimSpace(raw)
	if alias, ok := c.StatusAliases[key]; ok {
		return model.ParseLapseStatus(alias)
	}
	return model.ParseLapseStatus(key)
}

// ActiveRules returns the enabled rules ordered by priority, ties broken by id
func (c *EngineConfig) ActiveRules() []RuleConfig {
	out := make([]RuleConfig, 0, len(c.Rules))
	for _, r := range c.Rules {
		if r.IsEnabled() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Rule returns the configuration of a rule by id
func (c *EngineConfig) Rule(id string) (RuleConfig, bool) {
	for _, r := range c.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return RuleConfig{}, false
}

// TranslateDateFormat converts a YYYY/MM/DD style pattern to a Go layout.
// Patterns that are already Go layouts pass through unchanged.
func TranslateDateFormat(format string) string {
	r := strings.NewReplacer(
		"YYYY", "2006",
		"MM", "01",
		"DD", "02",
		"HH", "15",
		"mm", "04",
		"ss", "05",
	)
	return r.Replace(format)
}
