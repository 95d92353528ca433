package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// NoValidInformation replaces any note field that carries nothing gradable.
const NoValidInformation = "[No valid information provided]"

const minFieldLength = 10

type Field string

const (
	FieldMetrics          Field = "metrics"
	FieldEconomicBuyer    Field = "economicBuyer"
	FieldDecisionCriteria Field = "decisionCriteria"
	FieldDecisionProcess  Field = "decisionProcess"
	FieldPaperProcess     Field = "paperProcess"
	FieldIdentifyPain     Field = "identifyPain"
	FieldChampion         Field = "champion"
)

// Fields lists the MEDDPIC components in prompt order.
var Fields = []Field{
	FieldMetrics,
	FieldEconomicBuyer,
	FieldDecisionCriteria,
	FieldDecisionProcess,
	FieldPaperProcess,
	FieldIdentifyPain,
	FieldChampion,
}

type fieldSpec struct {
	label       string
	placeholder string
	heading     *regexp.Regexp
}

var fieldSpecs = map[Field]fieldSpec{
	FieldMetrics:          newFieldSpec("Metrics", "What metrics justify this purchase?"),
	FieldEconomicBuyer:    newFieldSpec("Economic Buyer", "Who has budget authority?"),
	FieldDecisionCriteria: newFieldSpec("Decision Criteria", "What criteria will be used to make the decision?"),
	FieldDecisionProcess:  newFieldSpec("Decision Process", "What is the decision-making process?"),
	FieldPaperProcess:     newFieldSpec("Paper Process", "What is the paper process?"),
	FieldIdentifyPain:     newFieldSpec("Identify Pain", "What problems are we solving?"),
	FieldChampion:         newFieldSpec("Champion", "Who is advocating for us internally?"),
}

// A heading line starts with the label and a colon, optionally decorated with
// markdown or numbering ("**ECONOMIC BUYER:**", "2. EconomicBuyer:").
func newFieldSpec(label, placeholder string) fieldSpec {
	words := strings.Fields(label)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	pattern := `(?i)^[^A-Za-z]*` + strings.Join(words, `[\s_-]*`) + `[^A-Za-z0-9:]*:`
	return fieldSpec{label: label, placeholder: placeholder, heading: regexp.MustCompile(pattern)}
}

func (f Field) Label() string       { return fieldSpecs[f].label }
func (f Field) Placeholder() string { return fieldSpecs[f].placeholder }

// Notes maps MEDDPIC fields to the free text a rep typed for them.
type Notes map[Field]string

// NormalizedNotes always holds exactly the keys in Fields.
type NormalizedNotes map[Field]string

var wordRun = regexp.MustCompile(`[A-Za-z]{3,}`)

// Normalize cleans every field independently. Unknown keys are dropped and
// missing keys become NoValidInformation.
func Normalize(notes Notes) NormalizedNotes {
	out := make(NormalizedNotes, len(Fields))
	for _, field := range Fields {
		raw := notes[field]
		if fieldInvalid(field, raw) {
			out[field] = NoValidInformation
			continue
		}
		out[field] = strings.TrimSpace(raw)
	}
	return out
}

// Only the blank check trims; length and placeholder compare the text as typed.
func fieldInvalid(field Field, raw string) bool {
	switch {
	case strings.TrimSpace(raw) == "":
		return true
	case raw == field.Placeholder():
		return true
	case utf8.RuneCountInString(raw) < minFieldLength:
		return true
	case !wordRun.MatchString(raw):
		return true
	}
	return false
}

// Missing returns the fields holding NoValidInformation, in prompt order.
func (n NormalizedNotes) Missing() []Field {
	var out []Field
	for _, field := range Fields {
		if n[field] == NoValidInformation {
			out = append(out, field)
		}
	}
	return out
}

const gradingInstructions = `You are a strict MEDDPIC sales-qualification reviewer. Grade each component with exactly one of three tiers, checked in this order.

POOR when ANY of the following holds:
- the component reads "` + NoValidInformation + `" or is empty
- single words, gibberish, or placeholder text
- vague statements without specifics
- fewer than two meaningful sentences
- no names, roles, or numbers where the component calls for them

FAIR only when ALL of the following hold and GOOD does not:
- two or three detailed sentences
- named people, titles, or roles where relevant
- at least one concrete metric or criterion
- a recognizable process step or timeline

GOOD only when ALL of the following hold:
- three or more detailed sentences with concrete examples
- several quantified metrics where relevant
- names, titles and roles with their relationships
- a documented process with next steps

If a component could fit two tiers, give it the lower one. Never grade "` + NoValidInformation + `" above POOR.

Answer every component, in the order given, using exactly this layout and nothing else:

<COMPONENT NAME IN CAPITALS>:
Rating: <POOR|FAIR|GOOD>
Analysis: <why the rating was given>
Recommendations: <specific next actions for the rep>`

// Analysis is the policy-corrected grading of one set of notes.
type Analysis struct {
	Text       string
	Normalized NormalizedNotes
	Forced     []Field
}

// Analyzer grades MEDDPIC notes through a Completer.
type Analyzer struct {
	LLM      Completer
	Defaults GenerationParams
	Observer Observer
}

func NewAnalyzer(completer Completer, defaults GenerationParams) *Analyzer {
	return &Analyzer{LLM: completer, Defaults: defaults}
}

func (a *Analyzer) AnalyzeNotes(ctx context.Context, notes Notes) (string, error) {
	res, err := a.Analyze(ctx, notes)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (a *Analyzer) Analyze(ctx context.Context, notes Notes) (Analysis, error) {
	normalized := Normalize(notes)
	text, err := a.LLM.Complete(ctx, BuildAnalysisRequest(normalized, a.Defaults))
	if err != nil {
		return Analysis{}, fmt.Errorf("meddpic analysis: %w", err)
	}
	corrected, forced := ForcePoorRatings(strings.TrimSpace(text), normalized.Missing())
	if a.Observer != nil {
		for _, f := range forced {
			a.Observer.RatingForced(f.Field, f.Appended)
		}
	}
	fields := make([]Field, 0, len(forced))
	for _, f := range forced {
		fields = append(fields, f.Field)
	}
	return Analysis{Text: corrected, Normalized: normalized, Forced: fields}, nil
}

// BuildAnalysisRequest lowers temperature and adds light penalties so grading
// stays consistent and non-repetitive.
func BuildAnalysisRequest(normalized NormalizedNotes, defaults GenerationParams) CompletionRequest {
	var b strings.Builder
	b.WriteString("Analyze these MEDDPIC notes:\n")
	for _, field := range Fields {
		fmt.Fprintf(&b, "\n%s:\n%s\n", field.Label(), normalized[field])
	}
	params := defaults
	params.Temperature = 0.3
	params.MaxTokens = 2000
	params.PresencePenalty = 0.1
	params.FrequencyPenalty = 0.1
	return CompletionRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: gradingInstructions},
			{Role: RoleUser, Content: strings.TrimRight(b.String(), "\n")},
		},
		Params: params,
	}
}

type ForcedRating struct {
	Field    Field
	Appended bool
}

var (
	ratingLine   = regexp.MustCompile(`(?i)^\W*rating\W*:`)
	inlineRating = regexp.MustCompile(`(?i)\brating\W*:`)
	ratingTier   = regexp.MustCompile(`(?i)\b(POOR|FAIR|GOOD)\b`)
)

// ForcePoorRatings rewrites the rating of each listed field to POOR. A section
// without a rating line gets one; a field with no section at all gets a
// canonical section appended so the result never under-reports a gap.
func ForcePoorRatings(text string, fields []Field) (string, []ForcedRating) {
	if len(fields) == 0 {
		return text, nil
	}
	lines := strings.Split(text, "\n")
	var forced []ForcedRating
	var appendix []string
	for _, field := range fields {
		start := findHeading(lines, field)
		if start < 0 {
			appendix = append(appendix, canonicalPoorSection(field))
			forced = append(forced, ForcedRating{Field: field, Appended: true})
			continue
		}
		if line, ok := forceInlineRating(lines[start], fieldSpecs[field].heading); ok {
			lines[start] = line
			forced = append(forced, ForcedRating{Field: field})
			continue
		}
		end := nextHeading(lines, start+1)
		rating := -1
		for i := start + 1; i < end; i++ {
			if ratingLine.MatchString(lines[i]) {
				rating = i
				break
			}
		}
		if rating < 0 {
			lines = append(lines[:start+1], append([]string{"Rating: POOR"}, lines[start+1:]...)...)
		} else if line, ok := replaceTier(lines[rating]); ok {
			lines[rating] = line
		} else {
			lines[rating] = "Rating: POOR"
		}
		forced = append(forced, ForcedRating{Field: field})
	}
	out := strings.Join(lines, "\n")
	for _, section := range appendix {
		if strings.TrimSpace(out) != "" {
			out += "\n\n"
		}
		out += section
	}
	return out, forced
}

// forceInlineRating handles "METRICS: Rating: GOOD" where the rating shares
// the heading line.
func forceInlineRating(line string, heading *regexp.Regexp) (string, bool) {
	loc := heading.FindStringIndex(line)
	if loc == nil {
		return line, false
	}
	tail := line[loc[1]:]
	r := inlineRating.FindStringIndex(tail)
	if r == nil {
		return line, false
	}
	head, rest := line[:loc[1]]+tail[:r[1]], tail[r[1]:]
	if replaced, ok := replaceTier(rest); ok {
		return head + replaced, true
	}
	return head + " POOR" + rest, true
}

// replaceTier rewrites only the first tier token so analysis text on the same
// line keeps its wording.
func replaceTier(s string) (string, bool) {
	loc := ratingTier.FindStringIndex(s)
	if loc == nil {
		return s, false
	}
	return s[:loc[0]] + "POOR" + s[loc[1]:], true
}

func findHeading(lines []string, field Field) int {
	re := fieldSpecs[field].heading
	for i := range lines {
		if re.MatchString(lines[i]) {
			return i
		}
	}
	return -1
}

func nextHeading(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		for _, field := range Fields {
			if fieldSpecs[field].heading.MatchString(lines[i]) {
				return i
			}
		}
	}
	return len(lines)
}

func canonicalPoorSection(field Field) string {
	return strings.ToUpper(field.Label()) + ":\n" +
		"Rating: POOR\n" +
		"Analysis: No valid information was provided for this component.\n" +
		"Recommendations: Capture specific, verifiable details for " + field.Label() + " before the next review."
}
