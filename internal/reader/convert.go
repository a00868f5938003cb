package reader

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lakeflow/internal/model"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339
)

// coerceString converts one raw text cell into the schema column's type.
// Empty cells become NULL for every type except string.
func coerceString(cell string, colType string) (model.Value, error) {
	switch normalizeType(colType) {
	case "string":
		return cell, nil
	case "integer":
		if cell == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(cell), 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "parse integer %q", cell)
		}
		return n, nil
	case "number":
		if cell == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "parse number %q", cell)
		}
		return f, nil
	case "boolean":
		if cell == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(cell)))
		if err != nil {
			return nil, eris.Wrapf(err, "parse boolean %q", cell)
		}
		return b, nil
	case "date":
		if cell == "" {
			return nil, nil
		}
		t, err := time.Parse(dateLayout, strings.TrimSpace(cell))
		if err != nil {
			return nil, eris.Wrapf(err, "parse date %q", cell)
		}
		return t, nil
	case "timestamp":
		if cell == "" {
			return nil, nil
		}
		t, err := time.Parse(timestampLayout, strings.TrimSpace(cell))
		if err != nil {
			return nil, eris.Wrapf(err, "parse timestamp %q", cell)
		}
		return t, nil
	default:
		return nil, eris.Errorf("unknown column type %q", colType)
	}
}

// coerceAny converts an already-decoded JSON value (from API sources) into
// the schema column's type. JSON numbers arrive as float64.
func coerceAny(v any, colType string) (model.Value, error) {
	if v == nil {
		return nil, nil
	}
	switch normalizeType(colType) {
	case "string":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, eris.Errorf("expected string, got %T", v)
	case "integer":
		switch t := v.(type) {
		case float64:
			return int64(t), nil
		case int64:
			return t, nil
		case string:
			return coerceString(t, colType)
		}
		return nil, eris.Errorf("expected integer, got %T", v)
	case "number":
		switch t := v.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		case string:
			return coerceString(t, colType)
		}
		return nil, eris.Errorf("expected number, got %T", v)
	case "boolean":
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			return coerceString(t, colType)
		}
		return nil, eris.Errorf("expected boolean, got %T", v)
	case "date", "timestamp":
		if s, ok := v.(string); ok {
			return coerceString(s, colType)
		}
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
		return nil, eris.Errorf("expected date string, got %T", v)
	default:
		return nil, eris.Errorf("unknown column type %q", colType)
	}
}

// normalizeType folds the type aliases contracts use in the wild onto the
// canonical set.
func normalizeType(colType string) string {
	switch strings.ToLower(strings.TrimSpace(colType)) {
	case "", "string", "text", "varchar":
		return "string"
	case "integer", "int", "bigint", "long":
		return "integer"
	case "number", "float", "double", "decimal", "numeric":
		return "number"
	case "boolean", "bool":
		return "boolean"
	case "date":
		return "date"
	case "timestamp", "datetime":
		return "timestamp"
	default:
		return strings.ToLower(strings.TrimSpace(colType))
	}
}
