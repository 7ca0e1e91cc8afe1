package onnx

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	defaultMaxWordLen = 100
	defaultMaxSeqLen  = 512
	continuingPrefix  = "##"
)

// Piece is one position of an encoded sequence. Start and End are character
// offsets into the original text; special tokens have Word -1.
type Piece struct {
	Text       string
	Start, End int
	Word       int
	Subword    bool
}

type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Pieces        []Piece
	Truncated     bool
}

type word struct {
	text       []rune
	start, end int
}

type WordPieceTokenizer struct {
	vocab      map[string]int
	unkID      int
	clsID      int
	sepID      int
	maxWordLen int
	maxSeqLen  int
	lowercase  bool

	// stripAccents drops combining marks after NFD decomposition.
	stripAccents bool
}

type tokenizerJSON struct {
	Model struct {
		Vocab                   map[string]int `json:"vocab"`
		MaxInputCharsPerWord    int            `json:"max_input_chars_per_word"`
		ContinuingSubwordPrefix *string        `json:"continuing_subword_prefix"`
	} `json:"model"`
	Normalizer *struct {
		Lowercase    *bool `json:"lowercase"`
		StripAccents *bool `json:"strip_accents"`
	} `json:"normalizer"`
}

type tokenizerConfigJSON struct {
	DoLowerCase  *bool `json:"do_lower_case"`
	StripAccents *bool `json:"strip_accents"`
}

// stripAccentsOr returns v, or lowercase when v is unset.
func stripAccentsOr(v *bool, lowercase bool) bool {
	if v != nil {
		return *v
	}
	return lowercase
}

// LoadTokenizer reads a WordPiece vocabulary from dir: tokenizer.json when
// present, otherwise vocab.txt with tokenizer_config.json.
func LoadTokenizer(dir string) (*WordPieceTokenizer, error) {
	jsonPath := filepath.Join(dir, "tokenizer.json")
	if _, err := os.Stat(jsonPath); err == nil {
		return loadTokenizerJSON(jsonPath)
	}
	vocabPath := filepath.Join(dir, "vocab.txt")
	if _, err := os.Stat(vocabPath); err == nil {
		return loadVocabTxt(vocabPath, filepath.Join(dir, "tokenizer_config.json"))
	}
	return nil, fmt.Errorf("no tokenizer.json or vocab.txt in %s", dir)
}

func loadTokenizerJSON(path string) (*WordPieceTokenizer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg tokenizerJSON
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if len(cfg.Model.Vocab) == 0 {
		return nil, errors.New("tokenizer.json model.vocab is empty")
	}
	if p := cfg.Model.ContinuingSubwordPrefix; p != nil && *p != continuingPrefix {
		return nil, fmt.Errorf("unsupported continuing subword prefix %q", *p)
	}
	lowercase := true
	var strip *bool
	if cfg.Normalizer != nil {
		if cfg.Normalizer.Lowercase != nil {
			lowercase = *cfg.Normalizer.Lowercase
		}
		strip = cfg.Normalizer.StripAccents
	}
	t, err := newWordPieceTokenizer(cfg.Model.Vocab, lowercase)
	if err != nil {
		return nil, err
	}
	t.stripAccents = stripAccentsOr(strip, lowercase)
	if cfg.Model.MaxInputCharsPerWord > 0 {
		t.maxWordLen = cfg.Model.MaxInputCharsPerWord
	}
	return t, nil
}

func loadVocabTxt(path, configPath string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := map[string]int{}
	s := bufio.NewScanner(f)
	id := 0
	for s.Scan() {
		tok := strings.TrimRight(s.Text(), "\r")
		if _, dup := vocab[tok]; !dup {
			vocab[tok] = id
		}
		id++
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read vocab.txt: %w", err)
	}

	lowercase := true
	var strip *bool
	if raw, err := os.ReadFile(configPath); err == nil {
		var cfg tokenizerConfigJSON
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
		if cfg.DoLowerCase != nil {
			lowercase = *cfg.DoLowerCase
		}
		strip = cfg.StripAccents
	}
	t, err := newWordPieceTokenizer(vocab, lowercase)
	if err != nil {
		return nil, err
	}
	t.stripAccents = stripAccentsOr(strip, lowercase)
	return t, nil
}

func newWordPieceTokenizer(vocab map[string]int, lowercase bool) (*WordPieceTokenizer, error) {
	unkID, ok := vocab["[UNK]"]
	if !ok {
		return nil, errors.New("tokenizer vocab is missing [UNK]")
	}
	clsID, ok := vocab["[CLS]"]
	if !ok {
		return nil, errors.New("tokenizer vocab is missing [CLS]")
	}
	sepID, ok := vocab["[SEP]"]
	if !ok {
		return nil, errors.New("tokenizer vocab is missing [SEP]")
	}
	return &WordPieceTokenizer{
		vocab:      vocab,
		unkID:      unkID,
		clsID:      clsID,
		sepID:      sepID,
		maxWordLen: defaultMaxWordLen,
		maxSeqLen:  defaultMaxSeqLen,
		lowercase:  lowercase,
	}, nil
}

// normalize applies lowercasing and accent stripping to one word. orig maps
// each output rune back to its rune index in w.
func (t *WordPieceTokenizer) normalize(w []rune) (runes []rune, orig []int) {
	runes = make([]rune, 0, len(w))
	orig = make([]int, 0, len(w))
	for i, r := range w {
		if t.lowercase {
			r = unicode.ToLower(r)
		}
		if !t.stripAccents {
			runes = append(runes, r)
			orig = append(orig, i)
			continue
		}
		for _, d := range norm.NFD.String(string(r)) {
			if unicode.Is(unicode.Mn, d) {
				continue
			}
			runes = append(runes, d)
			orig = append(orig, i)
		}
	}
	return runes, orig
}

func (t *WordPieceTokenizer) VocabSize() int {
	return len(t.vocab)
}

// Encode produces [CLS] pieces... [SEP], truncating to the maximum sequence
// length.
func (t *WordPieceTokenizer) Encode(text string) *Encoding {
	out := &Encoding{}
	out.add(int64(t.clsID), Piece{Text: "[CLS]", Word: -1})

	for wi, w := range splitWords(text) {
		pieces := t.wordToPieces(w, wi)
		if len(out.InputIDs)+len(pieces) > t.maxSeqLen-1 {
			out.Truncated = true
			break
		}
		for _, p := range pieces {
			out.add(p.id, p.Piece)
		}
	}

	out.add(int64(t.sepID), Piece{Text: "[SEP]", Word: -1})
	return out
}

func (e *Encoding) add(id int64, p Piece) {
	e.InputIDs = append(e.InputIDs, id)
	e.AttentionMask = append(e.AttentionMask, 1)
	e.TokenTypeIDs = append(e.TokenTypeIDs, 0)
	e.Pieces = append(e.Pieces, p)
}

type idPiece struct {
	id int64
	Piece
}

// wordToPieces runs greedy longest-match-first over one word. A word that
// cannot be covered by the vocabulary becomes a single [UNK].
func (t *WordPieceTokenizer) wordToPieces(w word, wi int) []idPiece {
	unk := []idPiece{{id: int64(t.unkID), Piece: Piece{Text: "[UNK]", Start: w.start, End: w.end, Word: wi}}}
	if len(w.text) > t.maxWordLen {
		return unk
	}
	runes, orig := t.normalize(w.text)
	if len(runes) == 0 {
		return unk
	}

	out := make([]idPiece, 0, 2)
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := -1
		var piece string
		for end > start {
			piece = string(runes[start:end])
			if start > 0 {
				piece = continuingPrefix + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found == -1 {
			return unk
		}
		out = append(out, idPiece{id: int64(found), Piece: Piece{
			Text:    piece,
			Start:   w.start + orig[start],
			End:     w.start + orig[end-1] + 1,
			Word:    wi,
			Subword: start > 0,
		}})
		start = end
	}
	return out
}

// splitWords splits on whitespace and isolates punctuation, dropping control
// characters. Offsets count runes.
func splitWords(text string) []word {
	var words []word
	var cur []rune
	curStart := 0
	pos := 0
	flush := func() {
		if len(cur) > 0 {
			words = append(words, word{text: cur, start: curStart, end: curStart + len(cur)})
			cur = nil
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case r == 0 || r == unicode.ReplacementChar || unicode.IsControl(r):
			flush()
		case isPunctuation(r):
			flush()
			words = append(words, word{text: []rune{r}, start: pos, end: pos + 1})
		default:
			if len(cur) == 0 {
				curStart = pos
			}
			cur = append(cur, r)
		}
		pos++
	}
	flush()
	return words
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
