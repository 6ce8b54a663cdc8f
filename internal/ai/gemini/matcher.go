package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/cv-matcher/internal/ai"
	"github.com/spigell/cv-matcher/internal/logger"
	"github.com/spigell/cv-matcher/internal/utils"
)

const (
	keyMatch         = "JD-Match"
	keyMissingSkills = "Missing Skills"
	keySummary       = "Profile Summary"

	provider            = "gemini"
	defaultMaxLogLength = 200
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Matcher scores a CV against a job description with a single prompt.
type Matcher struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

//go:embed prompt.md
var promptTemplate string

func NewMatcher(generator contentGenerator, log *zap.Logger, model string, maxLogLength int) *Matcher {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Matcher{
		generator: generator,
		logger:    logger.WithAI(log, provider, model),
		maxLogLen: maxLogLength,
	}
}

// Score returns the model's assessment. A generator failure is returned as an
// error; an answer that cannot be decoded yields ai.Fallback.
func (m *Matcher) Score(ctx context.Context, cvText, jdText string) (ai.MatchResult, error) {
	prompt := buildPrompt(cvText, jdText)

	m.logger.Debug("gemini generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, m.maxLogLen)),
	)

	raw, err := m.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return ai.MatchResult{}, err
	}

	m.logger.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, m.maxLogLen)),
	)

	result, err := parseResponse(raw)
	if err != nil {
		m.logger.Warn("falling back after unparseable gemini response",
			zap.Error(err),
			zap.String("response_preview", utils.TruncateForLog(raw, m.maxLogLen)),
		)
		return ai.Fallback(), nil
	}

	return result, nil
}

func buildPrompt(cvText, jdText string) string {
	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "CV:\n{{CV_TEXT}}\n\nJD:\n{{JD_TEXT}}\n\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{CV_TEXT}}", cvText)
	prompt = strings.ReplaceAll(prompt, "{{JD_TEXT}}", jdText)
	return prompt
}

type rawResult struct {
	Match         *float64 `mapstructure:"JD-Match"`
	MissingSkills []string `mapstructure:"Missing Skills"`
	Summary       string   `mapstructure:"Profile Summary"`
}

// parseResponse accepts the documented keys with loosely typed values
// ("85", "85%", a lone string for skills) and fails only when the answer is
// not a JSON object or a value cannot be coerced.
func parseResponse(raw string) (ai.MatchResult, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return ai.MatchResult{}, fmt.Errorf("parse gemini response: %w", err)
	}
	if data == nil {
		return ai.MatchResult{}, errors.New("parse gemini response: answer is null")
	}

	if s, ok := data[keyMatch].(string); ok {
		data[keyMatch] = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	}

	var decoded rawResult
	if err := mapstructure.WeakDecode(data, &decoded); err != nil {
		return ai.MatchResult{}, fmt.Errorf("decode gemini response: %w", err)
	}

	result := ai.MatchResult{
		MissingSkills: make([]string, 0, len(decoded.MissingSkills)),
		Summary:       strings.TrimSpace(decoded.Summary),
	}

	if decoded.Match != nil && !math.IsNaN(*decoded.Match) {
		result.Match = math.Min(100, math.Max(0, *decoded.Match))
	}

	for _, skill := range decoded.MissingSkills {
		if skill = strings.TrimSpace(skill); skill != "" {
			result.MissingSkills = append(result.MissingSkills, skill)
		}
	}

	return result, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
