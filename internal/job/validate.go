package job

import "fmt"

// ValidateSpecification checks the structural constraints from spec.md §3
// that must hold before a job is admitted. It does not perform content
// moderation -- that is Stage B's job, run after admission.
func ValidateSpecification(s *Specification) error {
	if len(s.Topic) == 0 || len(s.Topic) > MaxTopicLen {
		return fmt.Errorf("topic must be 1-%d characters, got %d", MaxTopicLen, len(s.Topic))
	}
	if s.PageCount == 0 {
		s.PageCount = DefaultPageCount
	}
	if s.PageCount < MinPageCount || s.PageCount > MaxPageCount {
		return fmt.Errorf("page_count must be %d-%d, got %d", MinPageCount, MaxPageCount, s.PageCount)
	}
	switch s.TargetAge {
	case Age3to5, Age5to7, Age7to9, AgeAdult:
	default:
		return fmt.Errorf("invalid target_age: %q", s.TargetAge)
	}
	switch s.Style {
	case StyleWatercolor, StyleCartoon, Style3D, StylePixel, StyleOilPainting, StyleClaymation, StyleRealistic:
	default:
		return fmt.Errorf("invalid style: %q", s.Style)
	}
	if s.Language == "" {
		return fmt.Errorf("language is required")
	}
	if len(s.CharacterID) > MaxIDLen {
		return fmt.Errorf("character_id exceeds %d characters", MaxIDLen)
	}
	for _, id := range s.CharacterIDs {
		if len(id) > MaxIDLen {
			return fmt.Errorf("character_id exceeds %d characters", MaxIDLen)
		}
	}
	return nil
}

// ValidateUserKey checks the opaque user identifier's minimum length.
func ValidateUserKey(userKey string) error {
	if len(userKey) < MinUserKeyLen {
		return fmt.Errorf("user_key must be at least %d characters", MinUserKeyLen)
	}
	return nil
}

// AgeLengthRule is the per-age-band prose constraint enforced on Stage C
// output (spec.md §4.2).
type AgeLengthRule struct {
	MinSentences int
	MaxSentences int
	MaxWords     int // 0 means unbounded
}

var ageLengthRules = map[AgeBand]AgeLengthRule{
	Age3to5:  {MinSentences: 1, MaxSentences: 2, MaxWords: 25},
	Age5to7:  {MinSentences: 2, MaxSentences: 3, MaxWords: 40},
	Age7to9:  {MinSentences: 2, MaxSentences: 4, MaxWords: 60},
	AgeAdult: {MinSentences: 3, MaxSentences: 6, MaxWords: 0},
}

// LengthRuleFor returns the prose constraint for an age band.
func LengthRuleFor(age AgeBand) AgeLengthRule {
	return ageLengthRules[age]
}

// Violation returns a human-readable description of the first way text
// fails this rule, or "" if it satisfies the rule. Sentence count is
// approximated by counting terminal punctuation marks, which is adequate
// for enforcing an upper/lower bound rather than parsing grammar.
func (r AgeLengthRule) Violation(text string) string {
	sentences := countSentences(text)
	if sentences < r.MinSentences {
		return fmt.Sprintf("has %d sentences, need at least %d", sentences, r.MinSentences)
	}
	if sentences > r.MaxSentences {
		return fmt.Sprintf("has %d sentences, max is %d", sentences, r.MaxSentences)
	}
	if r.MaxWords > 0 {
		if words := countWords(text); words > r.MaxWords {
			return fmt.Sprintf("has %d words, max is %d", words, r.MaxWords)
		}
	}
	return ""
}

func countSentences(text string) int {
	count := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
		}
	}
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}

func countWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n'
		if isSpace {
			inWord = false
		} else if !inWord {
			inWord = true
			count++
		}
	}
	return count
}
