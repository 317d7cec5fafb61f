package permission

import "strings"

// RoleClassifier maps an organizational position to zero or more workflow roles.
type RoleClassifier interface {
	Classify(p Position) []Role
}

// ClassifierFunc adapts a function to RoleClassifier.
type ClassifierFunc func(p Position) []Role

// Classify calls the underlying function.
func (f ClassifierFunc) Classify(p Position) []Role { return f(p) }

// MatchField selects which part of a position a keyword rule inspects.
type MatchField string

const (
	MatchDesignation MatchField = "designation"
	MatchGroup       MatchField = "group"
)

// KeywordRule grants Role when any keyword is a substring of the selected field.
type KeywordRule struct {
	Field     MatchField `json:"field" yaml:"field"`
	GroupType GroupType  `json:"group_type,omitempty" yaml:"group_type,omitempty"`
	Keywords  []string   `json:"keywords" yaml:"keywords"`
	Role      Role       `json:"role" yaml:"role"`
}

// DefaultKeywordRules is the stock designation/department classification table.
var DefaultKeywordRules = []KeywordRule{
	{Field: MatchDesignation, Keywords: []string{"manager", "director", "lead", "head"}, Role: RoleApprover},
	{Field: MatchDesignation, Keywords: []string{"analyst", "reviewer"}, Role: RoleAnalyzer},
	{Field: MatchGroup, GroupType: GroupDepartment, Keywords: []string{"finance", "accounting"}, Role: RoleFinanceSpecialist},
	{Field: MatchGroup, GroupType: GroupDepartment, Keywords: []string{"human resources", "hr", "recruit"}, Role: RoleHRSpecialist},
}

// KeywordClassifier classifies positions by case-insensitive keyword matching.
type KeywordClassifier struct {
	rules []KeywordRule
}

// NewKeywordClassifier builds a classifier; nil rules selects DefaultKeywordRules.
func NewKeywordClassifier(rules []KeywordRule) *KeywordClassifier {
	if rules == nil {
		rules = DefaultKeywordRules
	}
	return &KeywordClassifier{rules: append([]KeywordRule(nil), rules...)}
}

// Classify implements RoleClassifier.
func (k *KeywordClassifier) Classify(p Position) []Role {
	var out []Role
	for _, rule := range k.rules {
		var subject string
		switch rule.Field {
		case MatchGroup:
			if rule.GroupType != "" && rule.GroupType != p.Group.Type {
				continue
			}
			subject = p.Group.Name
		default:
			subject = p.Designation.Name
		}
		if matchesKeyword(subject, rule.Keywords) {
			out = append(out, rule.Role)
		}
	}
	return out
}

func matchesKeyword(subject string, keywords []string) bool {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" {
		return false
	}
	words := strings.FieldsFunc(subject, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/' || r == ','
	})
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		// short keywords such as "hr" only match whole words
		if len(kw) <= 3 {
			for _, w := range words {
				if w == kw {
					return true
				}
			}
			continue
		}
		if strings.Contains(subject, kw) {
			return true
		}
	}
	return false
}
