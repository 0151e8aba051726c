package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"landflow/internal/workflow"
)

// Config models landflow.yml.
type Config struct {
	Marketplace struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"marketplace"`
	Energy struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"energy"`
	Tasks struct {
		Templates map[string][]TaskTemplate `yaml:"templates"`
	} `yaml:"tasks"`
	Documents struct {
		Types map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"types"`
	} `yaml:"documents"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// TaskTemplate is one unit of work stamped out when an administrator assigns
// tasks on a verified registration. Templates are keyed by specialist role.
type TaskTemplate struct {
	Title        string `yaml:"title"`
	Description  string `yaml:"description"`
	TimelineText string `yaml:"timeline"`
}

// Webhook is an outbound event subscription.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with lf init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.ID == "" {
		return fmt.Errorf("config.marketplace.id is required")
	}
	if c.Marketplace.Kind != "land-marketplace" {
		return fmt.Errorf("config.marketplace.kind must be 'land-marketplace'")
	}
	for name := range c.Energy.Catalog {
		if !workflow.ValidEnergyCategory(name) {
			return fmt.Errorf("config.energy.catalog contains unknown category %s", name)
		}
	}
	if c.Tasks.Templates == nil {
		return fmt.Errorf("config.tasks.templates is required")
	}
	for role, templates := range c.Tasks.Templates {
		valid := false
		for _, r := range workflow.SpecialistRoles {
			if string(r) == role {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("task templates keyed by unknown specialist role %s", role)
		}
		if len(templates) == 0 {
			return fmt.Errorf("role %s has no task templates", role)
		}
		for i, tpl := range templates {
			if tpl.Title == "" {
				return fmt.Errorf("role %s template %d has empty title", role, i)
			}
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// TemplatesFor returns the task templates for a specialist role.
func (c *Config) TemplatesFor(role workflow.Role) []TaskTemplate {
	return c.Tasks.Templates[string(role)]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "landflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(marketplaceID string) string {
	return fmt.Sprintf(defaultTemplate, marketplaceID)
}

// Default returns the default Config struct for a marketplace.
func Default(marketplaceID string) *Config {
	var cfg Config
	cfg.Marketplace.ID = marketplaceID
	cfg.Marketplace.Kind = "land-marketplace"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, marketplaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `marketplace:
  id: %s
  kind: land-marketplace

energy:
  catalog:
    solar:
      description: "Photovoltaic or concentrated solar generation"
    wind:
      description: "Onshore wind generation"
    hydroelectric:
      description: "Run-of-river or reservoir hydro"
    biomass:
      description: "Biomass combustion or biogas"
    geothermal:
      description: "Geothermal heat or power"

tasks:
  templates:
    re_sales_advisor:
      - title: "Prepare PPA term sheet"
        description: "Draft power purchase agreement terms for the site"
        timeline: "2 weeks"
      - title: "Developer outreach"
        description: "Shortlist and contact matching developers"
        timeline: "3 weeks"
    re_analyst:
      - title: "Resource yield analysis"
        description: "Model expected generation from site and resource data"
        timeline: "2 weeks"
      - title: "Grid interconnection review"
        description: "Assess distance and capacity of nearest interconnection point"
        timeline: "4 weeks"
    re_governance_lead:
      - title: "Permitting checklist"
        description: "Compile required permits and approval authorities"
        timeline: "3 weeks"
    project_manager:
      - title: "Project plan baseline"
        description: "Set milestones from verification through ready to build"
        timeline: "1 week"

documents:
  types:
    sla:
      description: "Service level agreement"
    lease:
      description: "Land lease agreement"
    survey:
      description: "Site survey report"
`
