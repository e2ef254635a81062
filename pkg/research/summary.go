package research

import (
	"encoding/json"
	"fmt"
)

// Summarize renders a record for human review.
func Summarize(r *Record) string {
	if r == nil {
		return "Error: no research data"
	}
	if r.Error != "" {
		return "Error: " + r.Error
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error: render research data: %v", err)
	}
	return fmt.Sprintf("Research completed on %q:\n\n%s\n", r.Query, data)
}
