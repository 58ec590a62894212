package sentiment

import (
	"math"

	"github.com/jonreiter/govader"
)

// Lexicon scores short texts with the VADER rule set: word valences adjusted for negation,
// boosters, capitalization and punctuation, then normalized into a compound score.
type Lexicon struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewLexicon() *Lexicon {
	return &Lexicon{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

// Polarity returns the compound score of text in [-1, 1]. Texts without any known word
// score 0.
func (l *Lexicon) Polarity(text string) float64 {
	c := l.analyzer.PolarityScores(text).Compound
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(-1, math.Min(1, c))
}
