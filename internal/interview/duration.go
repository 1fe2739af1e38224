package interview

import "time"

// DefaultAnswerDuration используется для типов без собственной таблицы
const DefaultAnswerDuration = 2 * time.Minute

// DurationTable задает время на ответ по сложности
type DurationTable map[Difficulty]time.Duration

// Durations задает время на ответ по типу вопроса и сложности
type Durations map[QuestionType]DurationTable

// DefaultDurations возвращает встроенную таблицу времени на ответ
func DefaultDurations() Durations {
	long := DurationTable{
		DifficultyEasy:   5 * time.Minute,
		DifficultyMedium: 10 * time.Minute,
		DifficultyHard:   15 * time.Minute,
	}
	return Durations{
		TypeSpeech: {
			DifficultyEasy:   2 * time.Minute,
			DifficultyMedium: 3 * time.Minute,
			DifficultyHard:   5 * time.Minute,
		},
		TypeCoding:       long,
		TypeSystemDesign: long,
	}
}

// For возвращает время на ответ для вопроса
func (d Durations) For(q Question) time.Duration {
	if table, ok := d[q.Type]; ok {
		if v, ok := table[q.Difficulty]; ok && v > 0 {
			return v
		}
	}
	return DefaultAnswerDuration
}

// AnswerDuration возвращает время на ответ по встроенной таблице
func AnswerDuration(q Question) time.Duration {
	return DefaultDurations().For(q)
}
