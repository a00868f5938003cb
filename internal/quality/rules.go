package quality

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
)

// cleanseFunc rewrites a single cell value.
type cleanseFunc func(v model.Value, rule contract.QualityRule) (model.Value, error)

// checkFunc reports whether a cell value violates a rule.
type checkFunc func(v model.Value, rule contract.QualityRule) (bool, error)

var titleCaser = cases.Title(language.Und)

// cleansingRules is the closed registry of cleansing rule kinds. Unknown
// names fail at contract load, not at row time.
var cleansingRules = map[string]cleanseFunc{
	"trim":                  cleanTrim,
	"upper":                 cleanUpper,
	"lower":                 cleanLower,
	"title":                 cleanTitle,
	"fill_null":             cleanFillNull,
	"regex_replace":         cleanRegexReplace,
	"nullify_empty_strings": cleanNullifyEmpty,
	"collapse_whitespace":   cleanCollapseWhitespace,
	"normalize_unicode":     cleanNormalizeUnicode,
}

// validationRules is the closed registry of validation rule kinds.
var validationRules = map[string]checkFunc{
	"not_null":     checkNotNull,
	"not_empty":    checkNotEmpty,
	"range":        checkRange,
	"pattern":      checkPattern,
	"date_format":  checkDateFormat,
	"allowed_type": checkAllowedType,
}

// ValidateRuleName is handed to contract.Load so unknown rule names are
// rejected when the contract is parsed.
func ValidateRuleName(ruleType, name string) error {
	switch ruleType {
	case "transformation":
		if _, ok := cleansingRules[name]; !ok {
			return eris.Errorf("quality: unknown cleansing rule %q", name)
		}
	case "validation":
		if _, ok := validationRules[name]; !ok {
			return eris.Errorf("quality: unknown validation rule %q", name)
		}
	default:
		return eris.Errorf("quality: unknown rule type %q", ruleType)
	}
	return nil
}

func cleanTrim(v model.Value, _ contract.QualityRule) (model.Value, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return v, nil
}

func cleanUpper(v model.Value, _ contract.QualityRule) (model.Value, error) {
	if s, ok := v.(string); ok {
		return cases.Upper(language.Und).String(s), nil
	}
	return v, nil
}

func cleanLower(v model.Value, _ contract.QualityRule) (model.Value, error) {
	if s, ok := v.(string); ok {
		return cases.Lower(language.Und).String(s), nil
	}
	return v, nil
}

func cleanTitle(v model.Value, _ contract.QualityRule) (model.Value, error) {
	if s, ok := v.(string); ok {
		return titleCaser.String(s), nil
	}
	return v, nil
}

func cleanFillNull(v model.Value, rule contract.QualityRule) (model.Value, error) {
	if v == nil {
		return rule.Value, nil
	}
	return v, nil
}

func cleanRegexReplace(v model.Value, rule contract.QualityRule) (model.Value, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	re, err := compiledPattern(rule.Pattern)
	if err != nil {
		return nil, err
	}
	return re.ReplaceAllString(s, rule.Replacement), nil
}

func cleanNullifyEmpty(v model.Value, _ contract.QualityRule) (model.Value, error) {
	if s, ok := v.(string); ok && s == "" {
		return nil, nil
	}
	return v, nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func cleanCollapseWhitespace(v model.Value, _ contract.QualityRule) (model.Value, error) {
	if s, ok := v.(string); ok {
		return whitespaceRun.ReplaceAllString(s, " "), nil
	}
	return v, nil
}

func cleanNormalizeUnicode(v model.Value, _ contract.QualityRule) (model.Value, error) {
	if s, ok := v.(string); ok {
		return norm.NFC.String(s), nil
	}
	return v, nil
}

func checkNotNull(v model.Value, _ contract.QualityRule) (bool, error) {
	return v == nil, nil
}

func checkNotEmpty(v model.Value, _ contract.QualityRule) (bool, error) {
	if v == nil {
		return true, nil
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == "", nil
}

func checkRange(v model.Value, rule contract.QualityRule) (bool, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return false, nil // range does not imply not_null
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case float64:
		f = n
	default:
		return true, nil
	}
	if rule.Min != nil && f < *rule.Min {
		return true, nil
	}
	if rule.Max != nil && f > *rule.Max {
		return true, nil
	}
	return false, nil
}

func checkPattern(v model.Value, rule contract.QualityRule) (bool, error) {
	s, ok := v.(string)
	if !ok {
		return v != nil, nil
	}
	re, err := compiledPattern(rule.Pattern)
	if err != nil {
		return false, err
	}
	return !re.MatchString(s), nil
}

func checkDateFormat(v model.Value, rule contract.QualityRule) (bool, error) {
	switch d := v.(type) {
	case nil:
		return false, nil
	case time.Time:
		return false, nil
	case string:
		layout := rule.Format
		if layout == "" {
			layout = "2006-01-02"
		}
		_, err := time.Parse(layout, d)
		return err != nil, nil
	default:
		return true, nil
	}
}

func checkAllowedType(v model.Value, rule contract.QualityRule) (bool, error) {
	if v == nil {
		return false, nil
	}
	switch rule.Value {
	case "string":
		_, ok := v.(string)
		return !ok, nil
	case "number":
		switch v.(type) {
		case int64, int, float64:
			return false, nil
		}
		return true, nil
	case "bool":
		_, ok := v.(bool)
		return !ok, nil
	default:
		return false, eris.Errorf("quality: unknown allowed_type %q", rule.Value)
	}
}

// pattern cache so hot loops do not recompile per row. Guarded because the
// batch runner evaluates contracts concurrently.
var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func compiledPattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, eris.New("quality: rule requires a pattern")
	}
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "quality: compile pattern %q", pattern)
	}
	patternCache[pattern] = re
	return re, nil
}
