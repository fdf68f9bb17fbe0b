package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/amplify/internal/domain"
)

func TestClassifySpam(t *testing.T) {
	c := NewClassifier()

	result := c.Classify("Click here for free followers! Use my promo code and earn money fast")

	assert.Equal(t, domain.CategorySpam, result.Category)
	assert.Equal(t, domain.SentimentSpam, result.Sentiment)
	assert.Greater(t, result.Confidence, 0.3)
}

func TestClassifyQuestion(t *testing.T) {
	c := NewClassifier()

	result := c.Classify("How does this integration work with existing pipelines?")

	assert.Equal(t, domain.CategoryQuestion, result.Category)
	assert.Equal(t, domain.SentimentQuestion, result.Sentiment)
}

func TestClassifyQuestionMarkBoostsBorderlineText(t *testing.T) {
	c := NewClassifier()

	with := c.Classify("Can I use this on older installs?")
	without := c.Classify("Can I use this on older installs")

	assert.Equal(t, domain.CategoryQuestion, with.Category)
	assert.Equal(t, domain.CategoryQuestion, without.Category)
	assert.Greater(t, with.Confidence, without.Confidence)
}

func TestClassifyComplaint(t *testing.T) {
	c := NewClassifier()

	result := c.Classify("This is broken and terrible, I want a refund. Worst purchase ever")

	assert.Equal(t, domain.CategoryComplaint, result.Category)
	assert.Equal(t, domain.SentimentNegative, result.Sentiment)
}

func TestClassifyPraise(t *testing.T) {
	c := NewClassifier()

	result := c.Classify("Love this! Amazing work, thank you for sharing")

	assert.Equal(t, domain.CategoryPraise, result.Category)
	assert.Equal(t, domain.SentimentPositive, result.Sentiment)
}

func TestClassifyUnmatchedFallsBackToGeneral(t *testing.T) {
	c := NewClassifier()

	result := c.Classify("the weather looked fine over the harbour this morning")

	assert.Equal(t, domain.CategoryGeneral, result.Category)
	assert.Equal(t, domain.SentimentNeutral, result.Sentiment)
	assert.InDelta(t, unmatchedConfidence, result.Confidence, 1e-9)
}

func TestClassifyUnmatchedQuestionMark(t *testing.T) {
	c := NewClassifier()

	result := c.Classify("seriously?")

	assert.Equal(t, domain.CategoryQuestion, result.Category)
	assert.InDelta(t, questionMarkBoost, result.Confidence, 1e-9)
}

func TestUpdateLexiconsRebuildsAutomaton(t *testing.T) {
	c := NewClassifier()
	assert.Greater(t, c.KeywordCount(), 0)

	c.UpdateLexicons([]lexicon{
		{
			category:  domain.CategoryPraise,
			sentiment: domain.SentimentPositive,
			keywords:  []string{"stellar work"},
		},
	})
	assert.Equal(t, 1, c.KeywordCount())

	result := c.Classify("that demo was stellar work")
	assert.Equal(t, domain.CategoryPraise, result.Category)

	fallback := c.Classify("love this")
	assert.Equal(t, domain.CategoryGeneral, fallback.Category)
}

func TestClassifyEmptyText(t *testing.T) {
	c := NewClassifier()

	result := c.Classify("")

	assert.Equal(t, domain.CategoryGeneral, result.Category)
	assert.InDelta(t, unmatchedConfidence, result.Confidence, 1e-9)
}
