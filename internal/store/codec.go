package store

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lakeflow/internal/model"
)

// dateLayout is how effective dates are stored. Lexicographic order matches
// chronological order, and the open-ended sentinel sorts last.
const dateLayout = "2006-01-02"

func encodeDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func decodeDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "store: parse date %q", s)
	}
	return t, nil
}

// jsonFloat keeps integral floats distinguishable from integers in the JSON
// text: 10.0 encodes as "10.0", never "10", so the decode side can restore
// the declared numeric type instead of guessing.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		return strconv.AppendFloat(nil, v, 'f', 1, 64), nil
	}
	return json.Marshal(v)
}

// encodeAttrs serializes a row's attribute map. Typed values survive as JSON
// scalars; time.Time becomes RFC 3339 text.
func encodeAttrs(attrs model.Row) (string, error) {
	enc := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if f, ok := v.(float64); ok {
			enc[k] = jsonFloat(f)
			continue
		}
		enc[k] = v
	}
	raw, err := json.Marshal(enc)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal attributes")
	}
	return string(raw), nil
}

// decodeAttrs restores a row from its JSON text. Number literals without a
// fraction or exponent read back as int64, everything else as float64,
// mirroring what encodeAttrs wrote.
func decodeAttrs(raw string) (model.Row, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var attrs model.Row
	if err := dec.Decode(&attrs); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal attributes")
	}

	for k, v := range attrs {
		num, ok := v.(json.Number)
		if !ok {
			continue
		}
		if !strings.ContainsAny(num.String(), ".eE") {
			if i, err := num.Int64(); err == nil {
				attrs[k] = i
				continue
			}
		}
		f, err := num.Float64()
		if err != nil {
			return nil, eris.Wrapf(err, "store: parse number attribute %q", k)
		}
		attrs[k] = f
	}
	return attrs, nil
}
