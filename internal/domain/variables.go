package domain

import (
	"fmt"
	"strings"
)

// AgeRange maps a specific age to a coarse range used for cache keys and
// placeholder substitution. Coarse ranges let different protagonists of a
// similar profile share generated story branches.
func AgeRange(age int) string {
	switch {
	case age >= 16 && age <= 25:
		return "young"
	case age >= 26 && age <= 40:
		return "adult"
	case age >= 41 && age <= 60:
		return "middle_aged"
	default:
		return "elder"
	}
}

// GenderCategory maps free-text gender to a standardized category.
func GenderCategory(gender string) string {
	switch strings.ToLower(gender) {
	case "male", "female":
		return strings.ToLower(gender)
	default:
		return "other"
	}
}

// VariableKey builds a cache key from a node id and protagonist attributes,
// using ranges instead of specific values.
func VariableKey(nodeID string, p Protagonist) string {
	return fmt.Sprintf("%s_%s_%s", nodeID, GenderCategory(p.Gender), AgeRange(p.Age))
}

// Variables returns all placeholder values available for a protagonist.
func Variables(p Protagonist) map[string]string {
	return map[string]string{
		"name":            p.Name,
		"gender":          p.Gender,
		"age":             fmt.Sprintf("%d", p.Age),
		"age_range":       AgeRange(p.Age),
		"gender_category": GenderCategory(p.Gender),
		"situation":       p.StartingSituation,
	}
}

// ResolveVariables substitutes {var} and $var placeholders in text with
// protagonist attributes.
func ResolveVariables(text string, p Protagonist) string {
	return SubstituteVariables(text, Variables(p))
}

// SubstituteVariables replaces {var} and $var placeholders with the given
// values. Unknown placeholders are left as-is.
func SubstituteVariables(text string, vars map[string]string) string {
	resolved := text
	for name, value := range vars {
		resolved = strings.ReplaceAll(resolved, "{"+name+"}", value)
		resolved = strings.ReplaceAll(resolved, "$"+name, value)
	}
	return resolved
}
