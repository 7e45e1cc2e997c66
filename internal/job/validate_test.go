package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSpecification_DefaultsPageCount(t *testing.T) {
	spec := &Specification{
		Topic:     "a brave little fox",
		Language:  "en",
		TargetAge: Age5to7,
		Style:     StyleWatercolor,
	}
	assert.NoError(t, ValidateSpecification(spec))
	assert.Equal(t, DefaultPageCount, spec.PageCount)
}

func TestValidateSpecification_RejectsOutOfRangePageCount(t *testing.T) {
	spec := &Specification{
		Topic: "x", Language: "en", TargetAge: Age3to5, Style: StyleCartoon, PageCount: MaxPageCount + 1,
	}
	assert.Error(t, ValidateSpecification(spec))
}

func TestValidateSpecification_RejectsUnknownStyle(t *testing.T) {
	spec := &Specification{
		Topic: "x", Language: "en", TargetAge: Age3to5, Style: "anime",
	}
	assert.Error(t, ValidateSpecification(spec))
}

func TestValidateSpecification_RejectsUnknownAgeBand(t *testing.T) {
	spec := &Specification{
		Topic: "x", Language: "en", TargetAge: "teen", Style: StyleCartoon,
	}
	assert.Error(t, ValidateSpecification(spec))
}

func TestValidateSpecification_RejectsEmptyTopic(t *testing.T) {
	spec := &Specification{
		Topic: "", Language: "en", TargetAge: Age3to5, Style: StyleCartoon,
	}
	assert.Error(t, ValidateSpecification(spec))
}

func TestValidateUserKey_RejectsShortKeys(t *testing.T) {
	assert.Error(t, ValidateUserKey("short"))
	assert.NoError(t, ValidateUserKey("user-0123456789"))
}

func TestResolvedCharacterIDs_ListWinsOverSingular(t *testing.T) {
	spec := Specification{CharacterID: "char_1", CharacterIDs: []string{"char_2", "char_3"}}
	assert.Equal(t, []string{"char_2", "char_3"}, spec.ResolvedCharacterIDs())
}

func TestResolvedCharacterIDs_FallsBackToSingular(t *testing.T) {
	spec := Specification{CharacterID: "char_1"}
	assert.Equal(t, []string{"char_1"}, spec.ResolvedCharacterIDs())
}

func TestAgeLengthRule_Violation(t *testing.T) {
	rule := LengthRuleFor(Age3to5)

	assert.Equal(t, "", rule.Violation("The fox ran fast. It was happy."))
	assert.NotEqual(t, "", rule.Violation("One. Two. Three."), "too many sentences for age 3-5")
	assert.NotEqual(t, "", rule.Violation(""), "empty text has zero sentences, below the minimum")
}

func TestAgeLengthRule_EnforcesWordCap(t *testing.T) {
	rule := LengthRuleFor(Age3to5)
	longSentence := "The little fox ran very quickly across the big green field chasing butterflies in the warm summer sun today."
	assert.NotEqual(t, "", rule.Violation(longSentence))
}

func TestAgeLengthRule_AdultHasNoWordCap(t *testing.T) {
	rule := LengthRuleFor(AgeAdult)
	assert.Equal(t, 0, rule.MaxWords)
}
