package domain

import (
	"fmt"
	"regexp"
	"strings"
)

type FieldKind string

const (
	FieldCurrency   FieldKind = "currency"
	FieldPercentage FieldKind = "percentage"
	FieldNumber     FieldKind = "number"
	FieldBoolean    FieldKind = "boolean"
	FieldText       FieldKind = "text"
	FieldList       FieldKind = "list"
)

type FieldSpec struct {
	Kind    FieldKind `yaml:"kind" json:"kind"`
	Aliases []string  `yaml:"aliases" json:"aliases,omitempty"`
}

// CitationKeys name the passage metadata keys a citation is built from.
type CitationKeys struct {
	Source   string `yaml:"source" json:"source"`
	Location string `yaml:"location" json:"location"`
	Page     string `yaml:"page" json:"page"`
	Title    string `yaml:"title" json:"title"`
}

// DomainProfile is the per-domain configuration the engine is parameterized by.
type DomainProfile struct {
	Name                 string               `yaml:"name" json:"name"`
	NaturalKey           string               `yaml:"natural_key" json:"natural_key"`
	CriticalFields       []string             `yaml:"critical_fields" json:"critical_fields,omitempty"`
	StructuredVocabulary []string             `yaml:"structured_vocabulary" json:"structured_vocabulary,omitempty"`
	NarrativeVocabulary  []string             `yaml:"narrative_vocabulary" json:"narrative_vocabulary,omitempty"`
	SynonymGroups        [][]string           `yaml:"synonym_groups" json:"synonym_groups,omitempty"`
	StructuredKeywords   []string             `yaml:"structured_keywords" json:"structured_keywords,omitempty"`
	NarrativeKeywords    []string             `yaml:"narrative_keywords" json:"narrative_keywords,omitempty"`
	IdentifierPatterns   []string             `yaml:"identifier_patterns" json:"identifier_patterns,omitempty"`
	Fields               map[string]FieldSpec `yaml:"fields" json:"fields,omitempty"`
	Citation             CitationKeys         `yaml:"citation" json:"citation"`
	JudgeContext         string               `yaml:"judge_context" json:"judge_context,omitempty"`

	identifierRes []*regexp.Regexp
}

// Compile validates the profile and prepares its identifier patterns. It must run before use.
func (p *DomainProfile) Compile() error {
	if strings.TrimSpace(p.NaturalKey) == "" {
		p.NaturalKey = "key"
	}
	if p.Citation.Source == "" {
		p.Citation.Source = "source"
	}
	if p.Citation.Location == "" {
		p.Citation.Location = "section"
	}
	if p.Citation.Page == "" {
		p.Citation.Page = "page"
	}
	if p.Citation.Title == "" {
		p.Citation.Title = "title"
	}

	p.identifierRes = make([]*regexp.Regexp, 0, len(p.IdentifierPatterns))
	for _, pattern := range p.IdentifierPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return WrapError(ErrMisconfigured, "compile profile", fmt.Errorf("identifier pattern %q: %w", pattern, err))
		}
		p.identifierRes = append(p.identifierRes, re)
	}
	for name, spec := range p.Fields {
		switch spec.Kind {
		case FieldCurrency, FieldPercentage, FieldNumber, FieldBoolean, FieldText, FieldList:
		case "":
			spec.Kind = FieldText
			p.Fields[name] = spec
		default:
			return WrapError(ErrMisconfigured, "compile profile", fmt.Errorf("field %q has unknown kind %q", name, spec.Kind))
		}
	}
	return nil
}

func (p *DomainProfile) IdentifierRegexps() []*regexp.Regexp {
	return p.identifierRes
}

// IsIdentifier reports whether token matches one of the profile identifier patterns.
func (p *DomainProfile) IsIdentifier(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	for _, re := range p.identifierRes {
		if re.MatchString(token) {
			return true
		}
	}
	return false
}

func (p *DomainProfile) FieldKindOf(field string) FieldKind {
	if spec, ok := p.Fields[field]; ok {
		return spec.Kind
	}
	return ""
}

// DefaultProfile covers Ontario physician billing codes and assistive-device funding.
func DefaultProfile() DomainProfile {
	return DomainProfile{
		Name:           "ontario-health-billing",
		NaturalKey:     "code",
		CriticalFields: []string{"fee", "adp_contribution", "eligible"},
		StructuredVocabulary: []string{
			"fee", "price", "identifier", "code", "percentage", "threshold",
			"amount", "cost", "rate", "contribution", "share", "limit",
		},
		NarrativeVocabulary: []string{
			"requirements", "requirement", "criteria", "exclusions", "exclusion",
			"description", "notes", "conditions", "documentation",
		},
		SynonymGroups: [][]string{
			{"yes", "true", "eligible", "covered", "payable", "funded", "insured", "y"},
			{"no", "false", "ineligible", "not covered", "not payable", "not funded", "uninsured", "excluded", "n"},
		},
		StructuredKeywords: []string{
			"fee", "price", "cost", "code", "amount", "how much", "percentage", "percent",
			"rate", "billing", "bill", "schedule", "paid", "pay", "contribution", "threshold",
		},
		NarrativeKeywords: []string{
			"requirement", "requirements", "criteria", "eligible", "eligibility", "how do", "how to",
			"explain", "why", "describe", "documentation", "policy", "guidance", "what does",
			"conditions", "exclusions", "qualify", "process",
		},
		IdentifierPatterns: []string{
			`(?i)^[A-Z]\d{3}[A-Z]?$`,
			`^\d{5,10}$`,
			`(?i)^[A-Z]{2,5}-\d{2,6}$`,
		},
		Fields: map[string]FieldSpec{
			"fee":              {Kind: FieldCurrency, Aliases: []string{"fee", "pays", "paid at", "billed at", "payment"}},
			"price":            {Kind: FieldCurrency, Aliases: []string{"price", "approved price", "cost"}},
			"adp_contribution": {Kind: FieldPercentage, Aliases: []string{"adp contribution", "adp contributes", "adp pays", "adp funds", "adp covers"}},
			"client_share":     {Kind: FieldPercentage, Aliases: []string{"client share", "client pays", "client contribution"}},
			"eligible":         {Kind: FieldBoolean, Aliases: []string{"eligible", "covered", "payable", "funded", "insured"}},
			"threshold":        {Kind: FieldNumber, Aliases: []string{"threshold", "minimum", "at least"}},
			"requirements":     {Kind: FieldText},
			"description":      {Kind: FieldText},
			"exclusions":       {Kind: FieldList},
		},
		Citation: CitationKeys{
			Source:   "source",
			Location: "section",
			Page:     "page",
			Title:    "title",
		},
		JudgeContext: "Ontario health billing (OHIP Schedule of Benefits) and Assistive Devices Program funding policy",
	}
}
