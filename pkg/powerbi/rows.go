package powerbi

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

type field struct {
	Key   string
	Value any
}

// orderedRow keeps the key order of a JSON object, which is the column
// order of the DAX result.
type orderedRow []field

func (r *orderedRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "powerbi: read row")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return eris.New("powerbi: row is not an object")
	}

	var out orderedRow
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "powerbi: read row key")
		}
		key, ok := keyTok.(string)
		if !ok {
			return eris.New("powerbi: row key is not a string")
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return eris.Wrapf(err, "powerbi: read value for %s", key)
		}
		out = append(out, field{Key: key, Value: normalizeValue(v)})
	}
	*r = out
	return nil
}

func normalizeValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// ColumnName strips the table qualifier and brackets DAX puts on result
// keys: "Sales[Product]" becomes "Product", "[Total Sales]" becomes
// "Total Sales".
func ColumnName(key string) string {
	if i := strings.LastIndex(key, "["); i >= 0 && strings.HasSuffix(key, "]") {
		return key[i+1 : len(key)-1]
	}
	return key
}

func tableToResult(rows []orderedRow) *QueryResult {
	res := &QueryResult{}
	index := map[string]int{}
	for _, row := range rows {
		for _, f := range row {
			if _, ok := index[f.Key]; !ok {
				index[f.Key] = len(res.Columns)
				res.Columns = append(res.Columns, f.Key)
			}
		}
	}

	res.Rows = make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(res.Columns))
		for _, f := range row {
			vals[index[f.Key]] = f.Value
		}
		res.Rows[i] = vals
	}

	seen := make(map[string]bool, len(res.Columns))
	for i, c := range res.Columns {
		name := ColumnName(c)
		if seen[name] {
			// Same column name from two tables; keep it qualified.
			name = c
		}
		seen[name] = true
		res.Columns[i] = name
	}
	return res
}
