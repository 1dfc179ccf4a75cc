package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/normatech/normrag/internal/llm"
)

// Intent is a closed query-intent taxonomy driving rewriting and filters.
type Intent string

const (
	IntentDefinition    Intent = "definition"
	IntentApplicability Intent = "applicability"
	IntentRequirements  Intent = "requirements"
	IntentProcedure     Intent = "procedure"
	IntentExceptions    Intent = "exceptions"
	IntentGeneral       Intent = "general"
)

// Classification is the outcome of intent analysis for one query.
type Classification struct {
	Intent     Intent   `json:"intent_type"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Method     string   `json:"method"`

	ExpandedQueries  []string `json:"expanded_queries,omitempty"`
	SectionFilters   []string `json:"section_filters,omitempty"`
	ChunkTypeFilters []string `json:"chunk_type_filters,omitempty"`
}

// ruleConfidenceAccept is the rule-based confidence above which the LLM
// is not consulted.
const ruleConfidenceAccept = 0.8

// intentKeywords are the per-intent match lists for the rule-based scorer.
var intentKeywords = map[Intent][]string{
	IntentDefinition: {
		"что такое", "определение", "термин", "понятие", "означает",
		"расшифровка", "называется",
	},
	IntentApplicability: {
		"применяется", "распространяется", "область применения", "действует",
		"относится", "подпадает", "применим",
	},
	IntentRequirements: {
		"требования", "требуется", "должен", "должна", "должно", "должны",
		"обязательно", "необходимо", "нормы", "норматив", "допускается",
	},
	IntentProcedure: {
		"порядок", "как выполнить", "процедура", "этапы", "последовательность",
		"методика", "алгоритм", "каким образом",
	},
	IntentExceptions: {
		"исключение", "исключения", "не распространяется", "не применяется",
		"кроме", "за исключением", "не требуется",
	},
}

// rewriteTemplates expand the query per intent; %s is the original query.
var rewriteTemplates = map[Intent][]string{
	IntentDefinition: {
		"определение %s", "что такое %s", "термин %s", "понятие %s",
	},
	IntentApplicability: {
		"область применения %s", "где применяется %s", "на что распространяется %s",
	},
	IntentRequirements: {
		"требования к %s", "нормы для %s", "обязательные требования %s",
	},
	IntentProcedure: {
		"порядок выполнения %s", "этапы %s", "методика %s",
	},
	IntentExceptions: {
		"исключения для %s", "когда не применяется %s",
	},
}

// intentSectionFilters maps intent to candidate section heading keywords.
var intentSectionFilters = map[Intent][]string{
	IntentDefinition:    {"термины", "определения"},
	IntentApplicability: {"область применения", "общие положения"},
	IntentRequirements:  {"требования", "нормы"},
	IntentProcedure:     {"порядок", "методика"},
	IntentExceptions:    {"область применения", "общие положения"},
}

// intentChunkTypeFilters maps intent to candidate chunk types.
var intentChunkTypeFilters = map[Intent][]string{
	IntentDefinition:   {"definition"},
	IntentRequirements: {"requirement"},
	IntentProcedure:    {"procedure"},
}

// IntentClassifier combines a rule-based keyword scorer with an optional
// LLM classifier. Rule-based results with high confidence win outright;
// otherwise the LLM is consulted and the higher-confidence verdict is
// kept. LLM failures never fail classification.
type IntentClassifier struct {
	generator llm.Generator
	cache     *lru.Cache[string, Classification]
	logger    *slog.Logger
}

// NewIntentClassifier builds a classifier. generator may be nil, which
// restricts classification to the rule-based scorer.
func NewIntentClassifier(generator llm.Generator, cacheSize int, logger *slog.Logger) *IntentClassifier {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, Classification](cacheSize)
	return &IntentClassifier{generator: generator, cache: cache, logger: logger}
}

// Classify analyzes the query and returns its intent with expanded
// queries and derived filters. Results are cached by normalized query.
func (c *IntentClassifier) Classify(ctx context.Context, query string) Classification {
	key := strings.ToLower(strings.TrimSpace(query))
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	result := c.classifyRules(query)
	if result.Confidence < ruleConfidenceAccept && c.generator != nil {
		if llmResult, err := c.classifyLLM(ctx, query); err != nil {
			c.logger.Warn("intent_llm_failed", slog.String("error", err.Error()))
		} else if llmResult.Confidence > result.Confidence {
			result = llmResult
		}
	}

	result.ExpandedQueries = c.Rewrite(query, result.Intent)
	result.SectionFilters = intentSectionFilters[result.Intent]
	result.ChunkTypeFilters = intentChunkTypeFilters[result.Intent]

	c.cache.Add(key, result)
	return result
}

// Flush drops all cached classifications.
func (c *IntentClassifier) Flush() {
	c.cache.Purge()
}

// classifyRules scores each intent as matched keywords over list size,
// confidence = min(0.95, 2*score). Ties resolve to the first taxonomy
// order below; no matches yield general with zero confidence.
func (c *IntentClassifier) classifyRules(query string) Classification {
	lower := strings.ToLower(query)

	best := Classification{Intent: IntentGeneral, Method: "rules"}
	for _, intent := range []Intent{
		IntentDefinition, IntentApplicability, IntentRequirements,
		IntentProcedure, IntentExceptions,
	} {
		keywords := intentKeywords[intent]
		matches := 0
		var matched []string
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matches++
				matched = append(matched, kw)
			}
		}
		if matches == 0 {
			continue
		}
		score := float64(matches) / float64(len(keywords))
		confidence := 2 * score
		if confidence > 0.95 {
			confidence = 0.95
		}
		if confidence > best.Confidence {
			best = Classification{
				Intent:     intent,
				Confidence: confidence,
				Keywords:   matched,
				Method:     "rules",
			}
		}
	}
	return best
}

// classifyLLM requests a JSON-formatted classification from the model.
func (c *IntentClassifier) classifyLLM(ctx context.Context, query string) (Classification, error) {
	prompt := fmt.Sprintf(
		"Классифицируй запрос к базе нормативных документов по типу намерения.\n"+
			"Допустимые типы: definition, applicability, requirements, procedure, exceptions, general.\n"+
			"Ответь строго в формате JSON:\n"+
			`{"intent_type": "...", "confidence": 0.0, "reasoning": "...", "keywords": ["..."]}`+
			"\n\nЗапрос: %s", query)

	output, err := c.generator.Generate(ctx, prompt, llm.Options{
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		return Classification{}, err
	}

	// The model may wrap the JSON in prose or code fences.
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("no JSON object in %q", output)
	}

	var result Classification
	if err := json.Unmarshal([]byte(output[start:end+1]), &result); err != nil {
		return Classification{}, fmt.Errorf("parse intent JSON: %w", err)
	}
	if !validIntent(result.Intent) {
		return Classification{}, fmt.Errorf("unknown intent %q", result.Intent)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return Classification{}, fmt.Errorf("confidence %v out of range", result.Confidence)
	}
	result.Method = "llm"
	return result, nil
}

// Rewrite expands the query with up to 5 intent-specific variants,
// deduplicated preserving order. The original query is always first.
func (c *IntentClassifier) Rewrite(query string, intent Intent) []string {
	expansions := []string{query}
	seen := map[string]struct{}{strings.ToLower(query): {}}

	for _, tmpl := range rewriteTemplates[intent] {
		if len(expansions) == 5 {
			break
		}
		expanded := fmt.Sprintf(tmpl, query)
		key := strings.ToLower(expanded)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		expansions = append(expansions, expanded)
	}
	return expansions
}

func validIntent(i Intent) bool {
	switch i {
	case IntentDefinition, IntentApplicability, IntentRequirements,
		IntentProcedure, IntentExceptions, IntentGeneral:
		return true
	}
	return false
}
