package utils

import (
	"regexp"
	"strconv"
	"strings"

	"leadflow/models"
)

// Placeholder forms: {{path}} and {{path|default}}. Anything that does not
// match is left as literal text.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*(\|[^{}]*)?\}\}`)

// Render substitutes {{var}} and {{var|default}} placeholders in body with
// values from vars. Unresolved placeholders without a default render as an
// empty string; malformed placeholder syntax is kept verbatim. No HTML
// escaping is applied: callers rendering into email bodies own escaping.
func Render(body string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(body, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		path := groups[1]
		if value, ok := vars[path]; ok && value != "" {
			return value
		}
		if groups[2] != "" {
			// Strip the leading pipe; the default is used as-is.
			return strings.TrimSpace(groups[2][1:])
		}
		return ""
	})
}

// LeadVars builds the variable bag for a lead from an explicit field
// enumeration. Unknown keys in a template stay unresolved and render empty,
// which keeps partially filled previews working.
func LeadVars(lead *models.Lead) map[string]string {
	return map[string]string{
		"name":           lead.Name,
		"email":          lead.Email,
		"phone":          lead.Phone,
		"company":        lead.Company,
		"theme":          lead.Theme,
		"headcount":      strconv.Itoa(lead.Headcount),
		"lead.name":      lead.Name,
		"lead.email":     lead.Email,
		"lead.phone":     lead.Phone,
		"lead.company":   lead.Company,
		"lead.theme":     lead.Theme,
		"lead.headcount": strconv.Itoa(lead.Headcount),
	}
}
