package pipeline

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// FlexInt decodes human input leniently: a JSON number or a numeric string.
// Anything else, including null, decodes to 0 instead of failing, and the
// caller substitutes its default.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	*f = 0
	s := string(bytes.TrimSpace(data))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v > math.MaxInt32 || v < math.MinInt32 {
		return nil
	}
	*f = FlexInt(int(v))
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(f))
}

// FlexBool accepts true/false or a yes-style answer ("y", "yes", "true").
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	*b = false
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = FlexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = FlexBool(ParseYes(s))
	}
	return nil
}

// ParseYes reports whether answer is an affirmative reply.
func ParseYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "true":
		return true
	}
	return false
}
