package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config models cityworks.yml: the city profile, budget, planning horizon,
// and the risk/estimation/weather tables the pipeline stages read. The
// struct is passed explicitly into each stage call and never mutated.
type Config struct {
	City struct {
		Name            string  `yaml:"name"`
		Population      int64   `yaml:"population"`
		QuarterlyBudget float64 `yaml:"quarterly_budget"`
	} `yaml:"city"`
	Planning struct {
		HorizonWeeks int `yaml:"horizon_weeks"`
		CalendarYear int `yaml:"calendar_year"`
	} `yaml:"planning"`
	Risk struct {
		Weights struct {
			SafetyRisk       float64 `yaml:"safety_risk"`
			LegalMandate     float64 `yaml:"legal_mandate"`
			PopulationImpact float64 `yaml:"population_impact"`
			ComplaintVolume  float64 `yaml:"complaint_volume"`
		} `yaml:"weights"`
		Thresholds struct {
			HighPopulation int64   `yaml:"high_population"`
			HighComplaints int64   `yaml:"high_complaints"`
			HighRiskScore  float64 `yaml:"high_risk_score"`
		} `yaml:"thresholds"`
	} `yaml:"risk"`
	Crews struct {
		Mapping           map[string]string `yaml:"mapping"`
		Default           string            `yaml:"default"`
		Capacities        map[string]int    `yaml:"capacities"`
		Outdoor           []string          `yaml:"outdoor"`
		OutdoorCategories []string          `yaml:"outdoor_categories"`
	} `yaml:"crews"`
	Estimation struct {
		Tiers []CostTier `yaml:"tiers"`
		// Feasibility is min(1, urgency_days / feasibility_scale_days):
		// issues with more runway score as more feasible to deliver.
		FeasibilityScaleDays int `yaml:"feasibility_scale_days"`
	} `yaml:"estimation"`
	Weather struct {
		AdverseWeeks []AdverseSpan `yaml:"adverse_weeks"`
		// A window is high risk above this many adverse days, medium above zero.
		HighRiskDays int `yaml:"high_risk_days"`
	} `yaml:"weather"`
}

// CostTier maps a minimum estimated cost to duration and crew size.
type CostTier struct {
	MinCost  float64 `yaml:"min_cost"`
	Weeks    int     `yaml:"weeks"`
	CrewSize int     `yaml:"crew_size"`
}

// AdverseSpan marks weeks carrying a known adverse-weather load.
type AdverseSpan struct {
	Weeks       []int `yaml:"weeks"`
	AdverseDays int   `yaml:"adverse_days"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.City.Name == "" {
		return fmt.Errorf("config.city.name is required")
	}
	if c.City.QuarterlyBudget <= 0 {
		return fmt.Errorf("config.city.quarterly_budget must be positive")
	}
	if c.Planning.HorizonWeeks < 1 {
		return fmt.Errorf("config.planning.horizon_weeks must be >= 1")
	}
	if c.Planning.CalendarYear == 0 {
		return fmt.Errorf("config.planning.calendar_year is required")
	}
	if c.Risk.Thresholds.HighRiskScore <= 0 {
		return fmt.Errorf("config.risk.thresholds.high_risk_score must be positive")
	}
	if c.Crews.Default == "" {
		return fmt.Errorf("config.crews.default is required")
	}
	for category, crew := range c.Crews.Mapping {
		if crew == "" {
			return fmt.Errorf("crew mapping for category %s is empty", category)
		}
	}
	if len(c.Estimation.Tiers) == 0 {
		return fmt.Errorf("config.estimation.tiers is required")
	}
	for i, tier := range c.Estimation.Tiers {
		if tier.Weeks < 1 {
			return fmt.Errorf("estimation tier %d has invalid weeks %d", i, tier.Weeks)
		}
		if tier.CrewSize < 1 {
			return fmt.Errorf("estimation tier %d has invalid crew size %d", i, tier.CrewSize)
		}
	}
	if c.Estimation.FeasibilityScaleDays < 1 {
		return fmt.Errorf("config.estimation.feasibility_scale_days must be >= 1")
	}
	for _, span := range c.Weather.AdverseWeeks {
		for _, w := range span.Weeks {
			if w < 1 {
				return fmt.Errorf("adverse week %d out of range", w)
			}
		}
	}
	return nil
}

// CrewType maps an issue category to its crew type.
func (c *Config) CrewType(category string) string {
	if crew, ok := c.Crews.Mapping[category]; ok {
		return crew
	}
	return c.Crews.Default
}

// Estimate returns the duration and crew size for an estimated cost by
// picking the highest tier whose min_cost is not above the cost.
func (c *Config) Estimate(cost float64) (weeks, crewSize int) {
	tiers := make([]CostTier, len(c.Estimation.Tiers))
	copy(tiers, c.Estimation.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinCost > tiers[j].MinCost })
	for _, t := range tiers {
		if cost >= t.MinCost {
			return t.Weeks, t.CrewSize
		}
	}
	last := tiers[len(tiers)-1]
	return last.Weeks, last.CrewSize
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cityworks.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when no config file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
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

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `city:
  name: Metroville
  population: 2500000
  quarterly_budget: 75000000

planning:
  horizon_weeks: 12
  calendar_year: 2025

risk:
  weights:
    safety_risk: 3
    legal_mandate: 3
    population_impact: 1
    complaint_volume: 1
  thresholds:
    high_population: 100000
    high_complaints: 75
    high_risk_score: 3

crews:
  mapping:
    Water: water_crew
    Health: electrical_crew
    Disaster Management: construction_crew
    Infrastructure: construction_crew
    Recreation: general_crew
    Education: general_crew
  default: general_crew
  capacities:
    water_crew: 3
    electrical_crew: 2
    construction_crew: 5
    general_crew: 4
  outdoor: [water_crew, construction_crew, general_crew]
  outdoor_categories: [Water, Infrastructure, Construction]

estimation:
  tiers:
    - { min_cost: 50000000, weeks: 8, crew_size: 3 }
    - { min_cost: 10000000, weeks: 4, crew_size: 2 }
    - { min_cost: 1000000, weeks: 2, crew_size: 2 }
    - { min_cost: 0, weeks: 1, crew_size: 1 }
  feasibility_scale_days: 180

weather:
  adverse_weeks:
    - { weeks: [3, 4], adverse_days: 5 }
    - { weeks: [8, 9], adverse_days: 2 }
  high_risk_days: 3
`
