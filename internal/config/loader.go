package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"interview-orchestrator/internal/interview"
)

// Load загружает правила интервью из YAML файла поверх встроенных.
// Таблица длительностей типа вопроса из файла заменяет встроенную целиком.
func Load(filename string) (*Policy, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", filename, err)
	}

	policy := DefaultPolicy()
	err = yaml.Unmarshal(data, policy)
	if err != nil {
		return nil, fmt.Errorf("parse policy yaml: %w", err)
	}

	err = validateConfig(policy)
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	return policy, nil
}

// validateConfig проверяет корректность правил
func validateConfig(policy *Policy) error {
	if policy.Interview.MaxAttempts < 1 || policy.Interview.MaxAttempts > interview.MaxAttempts {
		return fmt.Errorf("max_attempts must be between 1 and %d, got %d",
			interview.MaxAttempts, policy.Interview.MaxAttempts)
	}

	for qtype, table := range policy.Durations {
		switch qtype {
		case interview.TypeStandard, interview.TypeCoding, interview.TypeSystemDesign, interview.TypeSpeech:
		default:
			return fmt.Errorf("unknown question type %q in durations", qtype)
		}

		for difficulty, d := range table {
			switch difficulty {
			case interview.DifficultyEasy, interview.DifficultyMedium, interview.DifficultyHard:
			default:
				return fmt.Errorf("unknown difficulty %q for %s", difficulty, qtype)
			}
			if d <= 0 {
				return fmt.Errorf("duration for %s/%s must be positive", qtype, difficulty)
			}
		}
	}

	for i, p := range policy.Placeholders {
		if p == "" {
			return fmt.Errorf("placeholder %d is empty", i)
		}
	}

	return nil
}
