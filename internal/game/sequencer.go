package game

import (
	"math/rand"
	"strings"
	"time"
	"unicode"

	"klasskamp-service/internal/domain"
)

// Sequencer builds ordered question sequences from sentence pools. The
// sequence is fixed once a room enters playing; correct word positions are
// computed here and never recomputed from client input.
type Sequencer struct {
	rnd *rand.Rand
}

func NewSequencer() *Sequencer {
	return NewSequencerWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewSequencerWithRand allows deterministic selection in tests.
func NewSequencerWithRand(rnd *rand.Rand) *Sequencer {
	return &Sequencer{rnd: rnd}
}

// BuildQuestions selects up to count sentences, random without replacement,
// and marks every non-punctuation token of the target word class as a correct
// position. A sentence with zero correct positions is still a valid question:
// it tests that the player recognizes "none present".
func (s *Sequencer) BuildQuestions(wordClass string, pool []domain.Sentence, count int) []domain.Question {
	usable := make([]domain.Sentence, 0, len(pool))
	for _, sentence := range pool {
		if len(sentence.Words) > 0 {
			usable = append(usable, sentence)
		}
	}
	if count <= 0 || count > len(usable) {
		count = len(usable)
	}

	questions := make([]domain.Question, 0, count)
	for _, idx := range s.rnd.Perm(len(usable))[:count] {
		questions = append(questions, buildQuestion(usable[idx], wordClass))
	}
	return questions
}

func buildQuestion(sentence domain.Sentence, wordClass string) domain.Question {
	words := make([]string, len(sentence.Words))
	var correct []int
	for i, word := range sentence.Words {
		words[i] = word.Text
		if isPunctuation(word.Text) {
			continue
		}
		if strings.EqualFold(word.Class, wordClass) {
			correct = append(correct, i)
		}
	}
	return domain.Question{
		SentenceID:     sentence.ID,
		Text:           sentence.Text,
		Words:          words,
		TargetClass:    wordClass,
		CorrectIndices: correct,
	}
}

// isPunctuation reports whether a token contains no letters or digits.
func isPunctuation(token string) bool {
	for _, r := range token {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return false
		}
	}
	return true
}
