package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models queueline.yml.
type Config struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	// Roles maps an administrative role (admin, businessadmin, taskadmin) to
	// the user or group ids holding it.
	Roles map[string][]string `yaml:"roles"`
	// Domains restricts workbasket and classification domains. Empty allows any.
	Domains []string `yaml:"domains"`
	Tasks   struct {
		TransferRequiresDistributionTarget bool   `yaml:"transfer_requires_distribution_target"`
		DefaultServiceLevel                string `yaml:"default_service_level"`
	} `yaml:"tasks"`
	Calendar struct {
		SkipWeekends bool `yaml:"skip_weekends"`
	} `yaml:"calendar"`
	Directory Directory `yaml:"directory"`
	Server    struct {
		Addr                    string `yaml:"addr"`
		BasePath                string `yaml:"base_path"`
		AllowLegacyAccessHeader bool   `yaml:"allow_legacy_access_header"`
	} `yaml:"server"`
	Webhooks []Webhook `yaml:"webhooks"`
	Log      struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Directory is the static user and group registry.
type Directory struct {
	Users  []DirectoryUser  `yaml:"users"`
	Groups []DirectoryGroup `yaml:"groups"`
}

type DirectoryUser struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Groups []string `yaml:"groups"`
}

type DirectoryGroup struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Webhook subscribes an endpoint to history events.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

var knownRoles = map[string]bool{"admin": true, "businessadmin": true, "taskadmin": true}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ql init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for role, members := range c.Roles {
		if !knownRoles[role] {
			return fmt.Errorf("config.roles contains unknown role %s", role)
		}
		for _, m := range members {
			if strings.TrimSpace(m) == "" {
				return fmt.Errorf("role %s has empty member id", role)
			}
		}
	}
	seen := map[string]bool{}
	for _, d := range c.Domains {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("config.domains contains empty domain")
		}
		key := strings.ToUpper(d)
		if seen[key] {
			return fmt.Errorf("config.domains lists %s twice", d)
		}
		seen[key] = true
	}
	groups := map[string]bool{}
	for _, g := range c.Directory.Groups {
		if g.ID == "" {
			return fmt.Errorf("config.directory.groups contains empty id")
		}
		groups[strings.ToLower(g.ID)] = true
	}
	users := map[string]bool{}
	for _, u := range c.Directory.Users {
		if u.ID == "" {
			return fmt.Errorf("config.directory.users contains empty id")
		}
		id := strings.ToLower(u.ID)
		if groups[id] {
			return fmt.Errorf("directory id %s is both a user and a group", u.ID)
		}
		if users[id] {
			return fmt.Errorf("directory user %s listed twice", u.ID)
		}
		users[id] = true
		for _, g := range u.Groups {
			if len(groups) > 0 && !groups[strings.ToLower(g)] {
				return fmt.Errorf("directory user %s references unknown group %s", u.ID, g)
			}
		}
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be debug, info, warn or error")
	}
	return nil
}

// DomainAllowed reports whether domain is configured. Matching is case-insensitive.
func (c *Config) DomainAllowed(domain string) bool {
	if len(c.Domains) == 0 {
		return true
	}
	for _, d := range c.Domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "queueline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `database:
  url: ""

roles:
  admin: [admin]
  businessadmin: [businessadmin]
  taskadmin: [taskadmin]

domains: [DOMAIN_A, DOMAIN_B]

tasks:
  transfer_requires_distribution_target: false
  default_service_level: P1D

calendar:
  skip_weekends: false

directory:
  groups:
    - id: group-1
      name: Group 1
    - id: group-2
      name: Group 2
  users:
    - id: admin
      name: Administrator
    - id: businessadmin
      name: Business Administrator
    - id: taskadmin
      name: Task Administrator
    - id: user-1-1
      name: User 1-1
      groups: [group-1]
    - id: user-1-2
      name: User 1-2
      groups: [group-1]
    - id: user-2-1
      name: User 2-1
      groups: [group-2]

server:
  addr: ":8080"
  base_path: /v0
  allow_legacy_access_header: false

log:
  level: info
  format: text
`
