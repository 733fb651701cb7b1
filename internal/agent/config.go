package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultAnalyzeSystemPrompt = `You are an expert at analysing user queries. Your job is to:
1. Identify the main intent of the query
2. Extract the important keywords
3. Decide what kind of information must be looked up
4. Suggest an approach for the answer

Answer concisely and in a structured way.`

	defaultAnswerSystemPrompt = `You are a helpful and precise research assistant.
Give detailed, well structured answers that are easy to understand.
Always:
- Answer clearly and in an organized way
- Use examples when appropriate
- Say so plainly when you are not sure about something
- Keep a professional but friendly tone`
)

// Config tunes the research pipeline. It can be overlaid from a YAML file.
type Config struct {
	AnalyzeSystemPrompt string  `yaml:"analyze_system_prompt"`
	AnalyzeTemperature  float64 `yaml:"analyze_temperature"`
	AnalyzeMaxTokens    int     `yaml:"analyze_max_tokens"`

	AnswerSystemPrompt string  `yaml:"answer_system_prompt"`
	AnswerTemperature  float64 `yaml:"answer_temperature"`
	AnswerMaxTokens    int     `yaml:"answer_max_tokens"`

	// HistoryWindow is how many prior messages are sent as LLM context.
	HistoryWindow int `yaml:"history_window"`
}

func DefaultConfig() Config {
	return Config{
		AnalyzeSystemPrompt: defaultAnalyzeSystemPrompt,
		AnalyzeTemperature:  0.3,
		AnalyzeMaxTokens:    300,
		AnswerSystemPrompt:  defaultAnswerSystemPrompt,
		AnswerTemperature:   0.7,
		AnswerMaxTokens:     2000,
		HistoryWindow:       10,
	}
}

// LoadConfig returns DefaultConfig overlaid with the YAML file at path. An
// empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read agent config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse agent config %s: %w", path, err)
	}
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = 0
	}
	return cfg, nil
}
