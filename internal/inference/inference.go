package inference

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
)

// inferred lists the categories the engine suggests for, in tie-break order.
var inferred = []config.Category{config.CategoryType, config.CategoryPriority, config.CategoryArea}

type trigger struct {
	name   string
	re     *regexp.Regexp
	weight float64
	source Source
}

// Engine scores issues against a compiled rule table. It is immutable and
// safe for concurrent use.
type Engine struct {
	rules map[config.Category]map[string][]trigger
}

// New compiles every pattern in table.
func New(table RuleTable) (*Engine, error) {
	e := &Engine{rules: map[config.Category]map[string][]trigger{}}
	for cat, labels := range table {
		c := config.Category(cat)
		if !isInferred(c) {
			return nil, fmt.Errorf("rule table: category %q is not inferred", cat)
		}
		compiled := map[string][]trigger{}
		for short, specs := range labels {
			for i, spec := range specs {
				if spec.Weight <= 0 {
					return nil, fmt.Errorf("rule table: %s/%s trigger %d: weight must be positive", cat, short, i)
				}
				re, err := regexp.Compile(spec.Pattern)
				if err != nil {
					return nil, fmt.Errorf("rule table: %s/%s trigger %d: %w", cat, short, i, err)
				}
				src := spec.Source
				switch src {
				case "":
					src = SourceText
				case SourceText, SourceTitle, SourceLabels:
				default:
					return nil, fmt.Errorf("rule table: %s/%s trigger %d: unknown source %q", cat, short, i, spec.Source)
				}
				name := spec.Name
				if name == "" {
					name = spec.Pattern
				}
				compiled[short] = append(compiled[short], trigger{name: name, re: re, weight: spec.Weight, source: src})
			}
		}
		e.rules[c] = compiled
	}
	return e, nil
}

// MustNew is New that panics on error.
func MustNew(table RuleTable) *Engine {
	e, err := New(table)
	if err != nil {
		panic(err)
	}
	return e
}

var defaultEngine = MustNew(DefaultRules())

// Infer scores issue with the built-in rule table.
func Infer(issue domain.Issue, cfg *config.WorkflowConfig) domain.Inference {
	return defaultEngine.Infer(issue, cfg)
}

func isInferred(c config.Category) bool {
	for _, cat := range inferred {
		if cat == c {
			return true
		}
	}
	return false
}

// Infer proposes at most one label per inferred category.
func (e *Engine) Infer(issue domain.Issue, cfg *config.WorkflowConfig) domain.Inference {
	out := domain.Inference{IssueNumber: issue.Number, All: []domain.InferenceResult{}}
	if cfg == nil {
		return out
	}
	if strings.TrimSpace(issue.Title) == "" && strings.TrimSpace(issue.Body) == "" {
		return out
	}
	text := issue.Title + "\n" + issue.Body

	for _, cat := range inferred {
		lc := cfg.Category(cat)
		if alreadyLabeled(issue, lc) {
			continue
		}
		var (
			best       string
			bestScore  float64
			bestReason []string
		)
		for _, short := range lc.Labels.Names() {
			score, matched := e.score(cat, short, issue, text)
			if score > bestScore {
				best, bestScore, bestReason = short, score, matched
			}
		}
		if best == "" || bestScore <= MinConfidence {
			continue
		}
		out.All = append(out.All, domain.InferenceResult{
			Category:   string(cat),
			Label:      lc.Prefix + best,
			Confidence: math.Round(bestScore*100) / 100,
			Reason:     "matched: " + strings.Join(bestReason, ", "),
		})
	}

	sort.SliceStable(out.All, func(i, j int) bool {
		return out.All[i].Confidence > out.All[j].Confidence
	})
	return out
}

// score sums matched trigger weights and clips to min(1, sum). Each trigger
// counts once. Rounding is left to the reported confidence.
func (e *Engine) score(cat config.Category, short string, issue domain.Issue, text string) (float64, []string) {
	var (
		sum     float64
		matched []string
	)
	triggers, ok := e.rules[cat][short]
	if ok {
		for _, t := range triggers {
			if t.matches(issue, text) {
				sum += t.weight
				matched = append(matched, t.name)
			}
		}
	} else if re := genericPattern(short); re != nil && re.MatchString(text) {
		sum += GenericWeight
		matched = append(matched, fmt.Sprintf("mentions %q", short))
	}
	for _, l := range issue.Labels {
		if strings.EqualFold(l, short) {
			sum += LabelEchoWeight
			matched = append(matched, fmt.Sprintf("label %q", l))
			break
		}
	}
	return math.Min(1, sum), matched
}

func (t trigger) matches(issue domain.Issue, text string) bool {
	switch t.source {
	case SourceTitle:
		return t.re.MatchString(issue.Title)
	case SourceLabels:
		for _, l := range issue.Labels {
			if t.re.MatchString(l) {
				return true
			}
		}
		return false
	}
	return t.re.MatchString(text)
}

func genericPattern(short string) *regexp.Regexp {
	words := strings.FieldsFunc(short, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	if len(words) == 0 {
		return nil
	}
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(words, `[-_\s]?`) + `\b`)
}

func alreadyLabeled(issue domain.Issue, lc config.LabelCategory) bool {
	for _, l := range issue.Labels {
		if strings.HasPrefix(l, lc.Prefix) && lc.Labels.Has(strings.TrimPrefix(l, lc.Prefix)) {
			return true
		}
	}
	return false
}
