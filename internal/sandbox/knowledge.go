package sandbox

import (
	"sort"
	"strings"
	"sync"
	"time"

	"ai-qa-sync/internal/entity"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const fallbackAnswer = "I could not find anything about that in the documents for this target."

type document struct {
	id        string
	title     string
	sentences []string
}

// Answer is a composed reply plus where it came from.
type Answer struct {
	Text    string
	Sources []entity.Source
	Cached  bool
}

// Knowledge answers questions from the documents ingested per target by
// picking the sentences that share the most words with the question.
type Knowledge struct {
	mu   sync.RWMutex
	docs map[string][]document

	answers *cache.Cache
}

func NewKnowledge() *Knowledge {
	return &Knowledge{
		docs:    make(map[string][]document),
		answers: cache.New(10*time.Minute, 20*time.Minute),
	}
}

func (k *Knowledge) Add(targetId, title, text string) string {
	doc := document{id: uuid.NewString(), title: title, sentences: splitSentences(text)}
	k.mu.Lock()
	k.docs[targetId] = append(k.docs[targetId], doc)
	k.mu.Unlock()

	// Earlier answers for this target may be incomplete now.
	for key := range k.answers.Items() {
		if strings.HasPrefix(key, targetId+"|") {
			k.answers.Delete(key)
		}
	}
	return doc.id
}

func (k *Knowledge) Answer(targetId, question string) Answer {
	key := targetId + "|" + strings.ToLower(strings.TrimSpace(question))
	if v, ok := k.answers.Get(key); ok {
		a := v.(Answer)
		a.Cached = true
		return a
	}

	a := k.compose(targetId, question)
	k.answers.SetDefault(key, a)
	return a
}

type hit struct {
	doc      document
	page     int
	sentence string
	score    int
}

func (k *Knowledge) compose(targetId, question string) Answer {
	terms := keywords(question)

	k.mu.RLock()
	var hits []hit
	for _, doc := range k.docs[targetId] {
		for i, s := range doc.sentences {
			if score := overlap(terms, s); score > 0 {
				hits = append(hits, hit{doc: doc, page: i/10 + 1, sentence: s, score: score})
			}
		}
	}
	k.mu.RUnlock()

	if len(hits) == 0 {
		return Answer{Text: fallbackAnswer}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > 3 {
		hits = hits[:3]
	}

	var b strings.Builder
	var sources []entity.Source
	seen := map[string]bool{}
	for i, h := range hits {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(h.sentence)
		if !seen[h.doc.id] {
			seen[h.doc.id] = true
			sources = append(sources, entity.Source{
				DocumentId: h.doc.id,
				Title:      h.doc.title,
				Page:       h.page,
				Score:      float32(h.score) / float32(len(terms)),
			})
		}
	}
	return Answer{Text: b.String(), Sources: sources}
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '\n' || r == '?' || r == '!' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f+".")
		}
	}
	return out
}

func keywords(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) > 3 {
			out[w] = true
		}
	}
	return out
}

func overlap(terms map[string]bool, sentence string) int {
	n := 0
	for w := range keywords(sentence) {
		if terms[w] {
			n++
		}
	}
	return n
}

// Chunks splits text into stream-sized pieces of a few words each.
func Chunks(text string, wordsPerChunk int) []string {
	words := strings.SplitAfter(text, " ")
	var out []string
	for i := 0; i < len(words); i += wordsPerChunk {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], ""))
	}
	return out
}
