package pipeline

import "strings"

// sentenceTerminators covers both East-Asian full-width and Western
// sentence-ending punctuation.
var sentenceTerminators = []rune{'。', '！', '？', '；', '.', '!', '?', ';'}

// SentenceSegmenter turns an incrementally-arriving text stream into complete
// sentences with minimal latency. Text deltas are appended to a pending
// buffer; every time a terminator appears, everything up to and including it
// is emitted as one sentence. Emission order is the order sentences appear in
// the source text.
type SentenceSegmenter struct {
	pending []rune
	seq     int
}

func NewSentenceSegmenter() *SentenceSegmenter {
	return &SentenceSegmenter{}
}

// Push appends one delta and returns every complete sentence it unlocked, in
// source order. Sentences are trimmed; empty results are dropped.
func (s *SentenceSegmenter) Push(text string) []Sentence {
	s.pending = append(s.pending, []rune(text)...)

	var out []Sentence
	for {
		cut := -1
		for i, r := range s.pending {
			if isTerminator(r) {
				cut = i
				break
			}
		}
		if cut < 0 {
			break
		}

		sentence := strings.TrimSpace(string(s.pending[:cut+1]))
		s.pending = s.pending[cut+1:]
		if sentence != "" {
			out = append(out, Sentence{Seq: s.seq, Text: sentence})
			s.seq++
		}
	}
	return out
}

// Flush emits any trailing partial sentence. Called once on stream
// completion; the remainder is emitted even without a terminator.
func (s *SentenceSegmenter) Flush() []Sentence {
	remainder := strings.TrimSpace(string(s.pending))
	s.pending = nil
	if remainder == "" {
		return nil
	}
	out := []Sentence{{Seq: s.seq, Text: remainder}}
	s.seq++
	return out
}

// Pending returns the buffered tail that has not yet formed a sentence.
func (s *SentenceSegmenter) Pending() string {
	return string(s.pending)
}

func (s *SentenceSegmenter) Reset() {
	s.pending = nil
	s.seq = 0
}

func isTerminator(r rune) bool {
	for _, t := range sentenceTerminators {
		if r == t {
			return true
		}
	}
	return false
}
