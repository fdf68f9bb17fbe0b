// Package engagement processes inbound comment events: classification,
// anti-spam suppression, policy-driven automated replies, escalation, and the
// per-post session phase machine.
package engagement

import (
	"math"
	"strings"
	"sync"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/jonesrussell/amplify/internal/domain"
)

// Classification is the outcome of running an event text through the
// keyword classifier.
type Classification struct {
	Sentiment  domain.Sentiment
	Category   domain.EventCategory
	Confidence float64
}

// lexicon binds a response category to its keyword set and the sentiment it
// implies.
type lexicon struct {
	category  domain.EventCategory
	sentiment domain.Sentiment
	keywords  []string
}

// Scoring constants: log-scaled term frequency rewards repeated hits,
// coverage rewards breadth across a lexicon's keyword set.
const (
	tfNormalizationFactor = 3.0
	tfWeight              = 0.6
	coverageWeight        = 0.4

	// questionMarkBoost nudges borderline texts that end in a question mark
	// toward the question category.
	questionMarkBoost = 0.25

	// unmatchedConfidence is reported for texts no lexicon matches.
	unmatchedConfidence = 0.2
)

// defaultLexicons cover the response categories. Spam keywords skew toward
// link-bait and promo phrasing; complaints toward refund/failure language.
var defaultLexicons = []lexicon{
	{
		category:  domain.CategorySpam,
		sentiment: domain.SentimentSpam,
		keywords: []string{
			"free followers", "click here", "buy now", "dm me", "check my profile",
			"promo code", "earn money", "crypto giveaway", "limited offer",
			"work from home", "get rich", "subscribe to my",
		},
	},
	{
		category:  domain.CategoryComplaint,
		sentiment: domain.SentimentNegative,
		keywords: []string{
			"refund", "broken", "doesn't work", "does not work", "terrible",
			"worst", "scam", "cancel my", "disappointed", "never again",
			"waste of money", "misleading",
		},
	},
	{
		category:  domain.CategoryQuestion,
		sentiment: domain.SentimentQuestion,
		keywords: []string{
			"how do", "how does", "what is", "what are", "why does", "can i",
			"where can", "when will", "is there", "does this", "anyone know",
			"could you explain",
		},
	},
	{
		category:  domain.CategoryPraise,
		sentiment: domain.SentimentPositive,
		keywords: []string{
			"love this", "love it", "amazing", "awesome", "great post",
			"thank you", "thanks", "well done", "brilliant", "exactly what i needed",
			"super helpful", "nice work",
		},
	},
}

// Classifier matches event text against category lexicons in a single
// Aho-Corasick pass. Safe for concurrent use; UpdateLexicons rebuilds the
// automaton atomically.
type Classifier struct {
	mu       sync.RWMutex
	matcher  *ahocorasick.Matcher
	keywords []string
	kwToLex  map[string][]*lexiconMapping
	lexicons []lexicon
}

type lexiconMapping struct {
	lex          *lexicon
	keywordIndex int
}

// NewClassifier builds a classifier over the default lexicons.
func NewClassifier() *Classifier {
	return NewClassifierWithLexicons(defaultLexicons)
}

// NewClassifierWithLexicons builds a classifier over custom lexicons.
func NewClassifierWithLexicons(lexicons []lexicon) *Classifier {
	c := &Classifier{lexicons: lexicons}
	c.rebuildLocked()
	return c
}

// rebuildLocked constructs the automaton. Callers must hold c.mu, except the
// constructor where the classifier is not yet shared.
func (c *Classifier) rebuildLocked() {
	c.keywords = c.keywords[:0]
	c.kwToLex = make(map[string][]*lexiconMapping)

	for i := range c.lexicons {
		lex := &c.lexicons[i]
		for idx, kw := range lex.keywords {
			normalized := strings.ToLower(strings.TrimSpace(kw))
			if normalized == "" {
				continue
			}
			c.keywords = append(c.keywords, normalized)
			c.kwToLex[normalized] = append(c.kwToLex[normalized], &lexiconMapping{
				lex:          lex,
				keywordIndex: idx,
			})
		}
	}

	if len(c.keywords) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(c.keywords)
	} else {
		c.matcher = nil
	}
}

// Classify scores the text against every lexicon and returns the best
// category with its confidence. Unmatched text classifies neutral/general
// with low confidence.
func (c *Classifier) Classify(text string) Classification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	endsWithQuestion := strings.HasSuffix(strings.TrimSpace(text), "?")

	if c.matcher == nil {
		return c.fallback(endsWithQuestion)
	}

	normalized := normalizeText(text)
	hits := c.matcher.Match([]byte(normalized))

	type accumulator struct {
		lex        *lexicon
		matchedIdx map[int]bool
		totalHits  int
	}
	accum := make(map[domain.EventCategory]*accumulator)

	for _, hitIndex := range hits {
		if hitIndex >= len(c.keywords) {
			continue
		}
		for _, m := range c.kwToLex[c.keywords[hitIndex]] {
			acc, ok := accum[m.lex.category]
			if !ok {
				acc = &accumulator{lex: m.lex, matchedIdx: make(map[int]bool)}
				accum[m.lex.category] = acc
			}
			acc.matchedIdx[m.keywordIndex] = true
			acc.totalHits++
		}
	}

	var best *lexicon
	var bestScore float64
	for _, acc := range accum {
		total := len(acc.lex.keywords)
		if total == 0 {
			continue
		}
		coverage := float64(len(acc.matchedIdx)) / float64(total)
		logTF := math.Min(1.0, math.Log1p(float64(acc.totalHits))/tfNormalizationFactor)
		score := logTF*tfWeight + coverage*coverageWeight

		if acc.lex.category == domain.CategoryQuestion && endsWithQuestion {
			score = math.Min(1.0, score+questionMarkBoost)
		}

		if best == nil || score > bestScore {
			best, bestScore = acc.lex, score
		}
	}

	if best == nil {
		return c.fallback(endsWithQuestion)
	}
	return Classification{
		Sentiment:  best.sentiment,
		Category:   best.category,
		Confidence: bestScore,
	}
}

func (c *Classifier) fallback(endsWithQuestion bool) Classification {
	if endsWithQuestion {
		return Classification{
			Sentiment:  domain.SentimentQuestion,
			Category:   domain.CategoryQuestion,
			Confidence: questionMarkBoost,
		}
	}
	return Classification{
		Sentiment:  domain.SentimentNeutral,
		Category:   domain.CategoryGeneral,
		Confidence: unmatchedConfidence,
	}
}

// UpdateLexicons hot-swaps the keyword sets and rebuilds the automaton.
func (c *Classifier) UpdateLexicons(lexicons []lexicon) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lexicons = lexicons
	c.rebuildLocked()
}

// KeywordCount returns the total keywords in the automaton.
func (c *Classifier) KeywordCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keywords)
}

func normalizeText(text string) string {
	text = strings.ToLower(text)

	var result strings.Builder
	result.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		} else {
			result.WriteByte(' ')
		}
	}
	return result.String()
}
