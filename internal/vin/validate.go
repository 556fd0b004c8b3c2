package vin

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Length is the number of characters in a VIN.
const Length = 17

// CheckDigitIndex is the 0-based position of the check digit.
const CheckDigitIndex = 8

// IssueKind classifies a validation finding.
type IssueKind string

const (
	IssueLength     IssueKind = "length"
	IssueCharacter  IssueKind = "character"
	IssueLowercase  IssueKind = "lowercase"
	IssueCheckDigit IssueKind = "check_digit"
	IssueWMI        IssueKind = "wmi"
)

// Issue is a single validation error or warning. Position is 1-based, 0 when
// the issue is not tied to one character.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Position int       `json:"position,omitempty"`
	Message  string    `json:"message"`
}

func (i Issue) String() string { return i.Message }

// Options tunes ValidateVIN. Use DefaultOptions for the documented defaults.
type Options struct {
	// AllowLowercase accepts lowercase input. Input is always uppercased for
	// the normalized form; when false, lowercase input is rejected.
	AllowLowercase bool `yaml:"allowLowercase" json:"allowLowercase"`
	// StrictMode promotes character and check digit warnings to errors and
	// requires a warning-free VIN.
	StrictMode bool `yaml:"strictMode" json:"strictMode"`
	// ValidateCheckDigit enables the ISO 3779 position 9 check.
	ValidateCheckDigit bool `yaml:"validateCheckDigit" json:"validateCheckDigit"`
}

// DefaultOptions returns AllowLowercase=true, StrictMode=false, ValidateCheckDigit=true.
func DefaultOptions() Options {
	return Options{AllowLowercase: true, ValidateCheckDigit: true}
}

// Result is the outcome of ValidateVIN.
type Result struct {
	Valid      bool    `json:"valid"`
	VIN        string  `json:"vin"`
	Normalized string  `json:"normalized"`
	Errors     []Issue `json:"errors"`
	Warnings   []Issue `json:"warnings"`
}

// Normalize trims surrounding whitespace and uppercases the VIN.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateVIN checks structure, alphabet, check digit and WMI shape of a VIN.
func ValidateVIN(raw string, opts Options) Result {
	trimmed := strings.TrimSpace(raw)
	normalized := Normalize(raw)
	res := Result{VIN: raw, Normalized: normalized, Errors: []Issue{}, Warnings: []Issue{}}

	if n := utf8.RuneCountInString(normalized); n != Length {
		res.Errors = append(res.Errors, Issue{
			Kind:    IssueLength,
			Message: fmt.Sprintf("VIN must be exactly %d characters, got %d", Length, n),
		})
		return res
	}

	if !opts.AllowLowercase && strings.IndexFunc(trimmed, unicode.IsLower) >= 0 {
		res.Errors = append(res.Errors, Issue{
			Kind:    IssueLowercase,
			Message: "VIN must be uppercase",
		})
	}

	charIssues := 0
	for i, r := range []rune(normalized) {
		if isVINChar(r) {
			continue
		}
		charIssues++
		issue := Issue{
			Kind:     IssueCharacter,
			Position: i + 1,
			Message:  fmt.Sprintf("invalid character %q at position %d", r, i+1),
		}
		res.add(issue, opts.StrictMode)
	}

	if opts.ValidateCheckDigit && charIssues == 0 {
		expected, _ := CheckDigit(normalized)
		actual := normalized[CheckDigitIndex]
		if expected != actual {
			res.add(Issue{
				Kind:     IssueCheckDigit,
				Position: CheckDigitIndex + 1,
				Message:  fmt.Sprintf("check digit mismatch: expected %q, got %q", expected, actual),
			}, opts.StrictMode)
		}
	}

	if !wmiPattern.MatchString(normalized[:3]) {
		res.Warnings = append(res.Warnings, Issue{
			Kind:    IssueWMI,
			Message: fmt.Sprintf("world manufacturer identifier %q is malformed", normalized[:3]),
		})
	}

	res.Valid = len(res.Errors) == 0 && (!opts.StrictMode || len(res.Warnings) == 0)
	return res
}

func (r *Result) add(issue Issue, strict bool) {
	if strict {
		r.Errors = append(r.Errors, issue)
		return
	}
	r.Warnings = append(r.Warnings, issue)
}

// HasIssue reports whether any error or warning has the given kind.
func (r Result) HasIssue(kind IssueKind) bool {
	for _, list := range [][]Issue{r.Errors, r.Warnings} {
		for _, issue := range list {
			if issue.Kind == kind {
				return true
			}
		}
	}
	return false
}

// CheckDigit computes the expected position 9 character of a 17 character VIN.
func CheckDigit(vin string) (byte, error) {
	if len(vin) != Length {
		return 0, fmt.Errorf("check digit needs %d characters, got %d", Length, len(vin))
	}
	sum := 0
	for i := 0; i < Length; i++ {
		value, ok := transliterate(rune(vin[i]))
		if !ok {
			return 0, fmt.Errorf("invalid character %q at position %d", vin[i], i+1)
		}
		sum += value * weights[i]
	}
	remainder := sum % 11
	if remainder == 10 {
		return 'X', nil
	}
	return byte('0' + remainder), nil
}

func isVINChar(r rune) bool {
	_, ok := transliterate(r)
	return ok
}

func transliterate(r rune) (int, bool) {
	if r >= '0' && r <= '9' {
		return int(r - '0'), true
	}
	value, ok := letterValues[r]
	return value, ok
}
