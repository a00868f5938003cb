package contract

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// WriteStrategy selects how a batch is persisted into the target table.
type WriteStrategy string

const (
	StrategyAppend     WriteStrategy = "append"
	StrategyOverwrite  WriteStrategy = "overwrite"
	StrategyT2CL       WriteStrategy = "type_2_change_log"
	StrategySCD2       WriteStrategy = "scd2"
	StrategySCD4       WriteStrategy = "scd4"
	StrategyFileExport WriteStrategy = "file_export"
)

// knownStrategies is the closed set of write strategies. Contract validation
// rejects anything else at load time.
var knownStrategies = map[WriteStrategy]bool{
	StrategyAppend:     true,
	StrategyOverwrite:  true,
	StrategyT2CL:       true,
	StrategySCD2:       true,
	StrategySCD4:       true,
	StrategyFileExport: true,
}

// DuplicatePolicy controls what the merge does when an incoming batch still
// contains duplicate natural keys after deduplication.
type DuplicatePolicy string

const (
	DuplicateFail      DuplicatePolicy = "fail"
	DuplicateKeepFirst DuplicatePolicy = "keep_first"
	DuplicateKeepLast  DuplicatePolicy = "keep_last"
)

// Column describes one schema property of the contract.
type Column struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	Nullable       bool   `yaml:"nullable"`
	IsPrimaryKey   bool   `yaml:"isPrimaryKey"`
	IsChangeTrack  bool   `yaml:"isChangeTracking"`
	MaskingEnabled bool   `yaml:"maskingEnabled"`
}

// Schema names the target and declares the column set.
type Schema struct {
	Name    string   `yaml:"name"`
	Table   string   `yaml:"table"`
	Columns []Column `yaml:"properties"`
}

// Source declares the declarative read source for the pipeline.
type Source struct {
	Type      string `yaml:"type"` // csv | xlsx | ftp | salesforce
	Path      string `yaml:"path"`
	URL       string `yaml:"url"`
	Sheet     string `yaml:"sheet"`
	SkipRows  int    `yaml:"skipRows"`
	Delimiter string `yaml:"delimiter"`
	Query     string `yaml:"query"` // salesforce SOQL
}

// QualityRule is one cleansing or validation rule from the contract. The rule
// set is validated against the closed quality-rule registries at load time.
type QualityRule struct {
	Type        string   `yaml:"type"` // transformation | validation
	Rule        string   `yaml:"rule"`
	Columns     []string `yaml:"columns"`
	Severity    string   `yaml:"severity"`
	Pattern     string   `yaml:"pattern"`
	Replacement string   `yaml:"replacement"`
	Value       string   `yaml:"value"`
	Min         *float64 `yaml:"min"`
	Max         *float64 `yaml:"max"`
	Format      string   `yaml:"format"`
}

// WriteOptions carries the strategy-specific knobs from customProperties.
type WriteOptions struct {
	Strategy         WriteStrategy   `yaml:"writeStrategy"`
	SoftDelete       bool            `yaml:"softDelete"`
	DuplicatePolicy  DuplicatePolicy `yaml:"duplicatePolicy"`
	PartitionBuckets int             `yaml:"partitionBuckets"`
	NaturalKeyCol    string          `yaml:"naturalKeyColumn"`
	ChangeKeyCol     string          `yaml:"changeKeyColumn"`
	PartitionCol     string          `yaml:"partitionColumn"`
	ExportPath       string          `yaml:"exportPath"`
	ExportFormat     string          `yaml:"exportFormat"` // csv | xlsx
	QualityThreshold float64         `yaml:"qualityThreshold"`
}

// Contract is a parsed data contract.
type Contract struct {
	APIVersion string        `yaml:"apiVersion"`
	Kind       string        `yaml:"kind"`
	Name       string        `yaml:"name"`
	Version    string        `yaml:"version"`
	Domain     string        `yaml:"domain"`
	Schema     Schema        `yaml:"schema"`
	Source     Source        `yaml:"source"`
	Quality    []QualityRule `yaml:"quality"`
	Write      WriteOptions  `yaml:"customProperties"`
}

// Load reads, parses and validates a contract file. Unknown rule names and
// write strategies fail here, not at row-processing time.
func Load(path string, validateRule func(ruleType, ruleName string) error) (*Contract, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "contract: read %s", path)
	}

	var c Contract
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, eris.Wrapf(err, "contract: parse %s", path)
	}

	c.applyDefaults()
	if err := c.Validate(validateRule); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Contract) applyDefaults() {
	if c.Write.Strategy == "" {
		c.Write.Strategy = StrategyT2CL
	}
	if c.Write.DuplicatePolicy == "" {
		c.Write.DuplicatePolicy = DuplicateFail
	}
	if c.Write.PartitionBuckets <= 0 {
		c.Write.PartitionBuckets = 100
	}
	if c.Write.NaturalKeyCol == "" {
		c.Write.NaturalKeyCol = "natural_key_hash"
	}
	if c.Write.ChangeKeyCol == "" {
		c.Write.ChangeKeyCol = "change_key_hash"
	}
	if c.Write.PartitionCol == "" {
		c.Write.PartitionCol = "partition_key"
	}
}

// Validate checks structural invariants plus rule and strategy names. The
// validateRule callback is supplied by the quality engine so the contract
// package does not depend on it.
func (c *Contract) Validate(validateRule func(ruleType, ruleName string) error) error {
	if c.Name == "" {
		return eris.New("contract: missing name")
	}
	if c.Schema.Name == "" || c.Schema.Table == "" {
		return eris.Errorf("contract %s: schema name and table are required", c.Name)
	}
	if len(c.Schema.Columns) == 0 {
		return eris.Errorf("contract %s: schema declares no columns", c.Name)
	}
	if !knownStrategies[c.Write.Strategy] {
		return eris.Errorf("contract %s: unknown write strategy %q", c.Name, c.Write.Strategy)
	}

	switch c.Write.DuplicatePolicy {
	case DuplicateFail, DuplicateKeepFirst, DuplicateKeepLast:
	default:
		return eris.Errorf("contract %s: unknown duplicate policy %q", c.Name, c.Write.DuplicatePolicy)
	}

	if c.mergeStrategy() && len(c.NaturalKeyColumns()) == 0 {
		return eris.Errorf("contract %s: strategy %s requires at least one primary-key column", c.Name, c.Write.Strategy)
	}

	byName := make(map[string]bool, len(c.Schema.Columns))
	for _, col := range c.Schema.Columns {
		if col.Name == "" {
			return eris.Errorf("contract %s: column with empty name", c.Name)
		}
		if byName[col.Name] {
			return eris.Errorf("contract %s: duplicate column %q", c.Name, col.Name)
		}
		byName[col.Name] = true
	}

	for _, rule := range c.Quality {
		if rule.Type != "transformation" && rule.Type != "validation" {
			return eris.Errorf("contract %s: unknown quality rule type %q", c.Name, rule.Type)
		}
		if validateRule != nil {
			if err := validateRule(rule.Type, rule.Rule); err != nil {
				return eris.Wrapf(err, "contract %s", c.Name)
			}
		}
		for _, col := range rule.Columns {
			if !byName[col] {
				return eris.Errorf("contract %s: rule %q references unknown column %q", c.Name, rule.Rule, col)
			}
		}
	}

	if c.Write.Strategy == StrategyFileExport && c.Write.ExportPath == "" {
		return eris.Errorf("contract %s: file_export requires exportPath", c.Name)
	}

	return nil
}

func (c *Contract) mergeStrategy() bool {
	switch c.Write.Strategy {
	case StrategyT2CL, StrategySCD2, StrategySCD4:
		return true
	}
	return false
}

// TargetTable is the fully qualified historized table name.
func (c *Contract) TargetTable() string {
	return strings.ToLower(c.Schema.Name + "." + c.Schema.Table)
}

// CurrentTable is the SCD4 current-table name derived from the target.
func (c *Contract) CurrentTable() string {
	return c.TargetTable() + "_current"
}

// HistoricalTable is the SCD4 history-table name derived from the target.
func (c *Contract) HistoricalTable() string {
	return c.TargetTable() + "_history"
}

// NaturalKeyColumns lists the columns flagged as primary key.
func (c *Contract) NaturalKeyColumns() []string {
	var out []string
	for _, col := range c.Schema.Columns {
		if col.IsPrimaryKey {
			out = append(out, col.Name)
		}
	}
	return out
}

// ChangeTrackingColumns lists the columns whose changes version the entity.
// When none are flagged, every non-key column is change-tracked.
func (c *Contract) ChangeTrackingColumns() []string {
	var out []string
	for _, col := range c.Schema.Columns {
		if col.IsChangeTrack {
			out = append(out, col.Name)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, col := range c.Schema.Columns {
		if !col.IsPrimaryKey {
			out = append(out, col.Name)
		}
	}
	return out
}

// ColumnNames lists all declared column names in order.
func (c *Contract) ColumnNames() []string {
	out := make([]string, 0, len(c.Schema.Columns))
	for _, col := range c.Schema.Columns {
		out = append(out, col.Name)
	}
	return out
}
