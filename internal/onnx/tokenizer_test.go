package onnx

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const testTokenizerJSON = `{
  "normalizer": {"type": "BertNormalizer", "lowercase": false},
  "model": {
    "type": "WordPiece",
    "continuing_subword_prefix": "##",
    "max_input_chars_per_word": 100,
    "vocab": {
      "[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3,
      "Amster": 4, "##dam": 5, "is": 6, "de": 7, "hoofdstad": 8, "van": 9,
      "Nederland": 10, ",": 11, ".": 12, "Den": 13, "Haag": 14
    }
  }
}`

func newTestTokenizer(t *testing.T) *WordPieceTokenizer {
	t.Helper()
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "tokenizer.json"), testTokenizerJSON)
	tok, err := LoadTokenizer(dir)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestEncodeOffsetsAndSubwords(t *testing.T) {
	tok := newTestTokenizer(t)
	enc := tok.Encode("Amsterdam is Nederland.")

	wantIDs := []int64{2, 4, 5, 6, 10, 12, 3}
	if !reflect.DeepEqual(enc.InputIDs, wantIDs) {
		t.Fatalf("ids = %v, want %v", enc.InputIDs, wantIDs)
	}
	if len(enc.AttentionMask) != len(wantIDs) || len(enc.TokenTypeIDs) != len(wantIDs) || len(enc.Pieces) != len(wantIDs) {
		t.Fatalf("misaligned encoding: %+v", enc)
	}

	dam := enc.Pieces[2]
	if dam.Text != "##dam" || dam.Start != 6 || dam.End != 9 || !dam.Subword || dam.Word != 0 {
		t.Fatalf("unexpected continuation piece %+v", dam)
	}
	dot := enc.Pieces[5]
	if dot.Text != "." || dot.Start != 22 || dot.End != 23 || dot.Subword {
		t.Fatalf("punctuation not split: %+v", dot)
	}
	if enc.Pieces[0].Word != -1 || enc.Pieces[6].Word != -1 {
		t.Fatal("special tokens must not map to words")
	}
}

func TestEncodeUnknownWordsUseCharacterOffsets(t *testing.T) {
	tok := newTestTokenizer(t)
	enc := tok.Encode("één café")
	if len(enc.Pieces) != 4 {
		t.Fatalf("expected 4 positions, got %d", len(enc.Pieces))
	}
	first, second := enc.Pieces[1], enc.Pieces[2]
	if first.Text != "[UNK]" || first.Start != 0 || first.End != 3 {
		t.Fatalf("unexpected piece %+v", first)
	}
	if second.Start != 4 || second.End != 8 {
		t.Fatalf("unexpected piece %+v", second)
	}
}

func TestEncodeLongWordIsUnknown(t *testing.T) {
	tok := newTestTokenizer(t)
	enc := tok.Encode(strings.Repeat("is", 51))
	if enc.InputIDs[1] != 1 {
		t.Fatalf("expected [UNK], got %d", enc.InputIDs[1])
	}
}

func TestEncodeTruncates(t *testing.T) {
	tok := newTestTokenizer(t)
	tok.maxSeqLen = 4
	enc := tok.Encode("is de van")
	if !enc.Truncated {
		t.Fatal("expected truncation")
	}
	if want := []int64{2, 6, 7, 3}; !reflect.DeepEqual(enc.InputIDs, want) {
		t.Fatalf("ids = %v, want %v", enc.InputIDs, want)
	}
}

func TestLoadTokenizerLowercaseDefault(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "tokenizer.json"), `{"model":{"vocab":{"[UNK]":0,"[CLS]":1,"[SEP]":2,"hallo":3}}}`)
	tok, err := LoadTokenizer(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := tok.Encode("Hallo").InputIDs[1]; got != 3 {
		t.Fatalf("expected lowercased lookup, got id %d", got)
	}
}

func TestUncasedTokenizerStripsAccents(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "tokenizer.json"), `{
  "normalizer": {"type": "BertNormalizer", "lowercase": true, "strip_accents": null},
  "model": {"vocab": {"[UNK]": 0, "[CLS]": 1, "[SEP]": 2, "een": 3, "cafe": 4, "caf": 5, "##e": 6}}
}`)
	tok, err := LoadTokenizer(dir)
	if err != nil {
		t.Fatal(err)
	}
	enc := tok.Encode("Één Café")
	if want := []int64{1, 3, 4, 2}; !reflect.DeepEqual(enc.InputIDs, want) {
		t.Fatalf("ids = %v, want %v", enc.InputIDs, want)
	}
	if p := enc.Pieces[2]; p.Start != 4 || p.End != 8 {
		t.Fatalf("offsets must follow the original text: %+v", p)
	}

	// a decomposed accent is dropped from the piece
	enc = tok.Encode("cafe\u0301!")
	if enc.InputIDs[1] != 4 {
		t.Fatalf("expected cafe, got %v", enc.InputIDs)
	}
	if p := enc.Pieces[1]; p.Start != 0 || p.End != 4 {
		t.Fatalf("unexpected piece %+v", p)
	}
}

func TestStripAccentsFollowsConfig(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "tokenizer.json"), `{
  "normalizer": {"type": "BertNormalizer", "lowercase": true, "strip_accents": false},
  "model": {"vocab": {"[UNK]": 0, "[CLS]": 1, "[SEP]": 2, "cafe": 3, "café": 4}}
}`)
	tok, err := LoadTokenizer(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := tok.Encode("Café").InputIDs[1]; got != 4 {
		t.Fatalf("accents must be kept, got id %d", got)
	}

	dir = t.TempDir()
	mustWrite(t, filepath.Join(dir, "vocab.txt"), "[PAD]\n[UNK]\n[CLS]\n[SEP]\ncafe\n")
	mustWrite(t, filepath.Join(dir, "tokenizer_config.json"), `{"do_lower_case": false, "strip_accents": true}`)
	tok, err = LoadTokenizer(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := tok.Encode("café").InputIDs[1]; got != 4 {
		t.Fatalf("expected stripped lookup, got id %d", got)
	}
}

func TestLoadTokenizerVocabTxt(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "vocab.txt"), "[PAD]\n[UNK]\n[CLS]\n[SEP]\nIk\ngeef\nhem\n")
	mustWrite(t, filepath.Join(dir, "tokenizer_config.json"), `{"do_lower_case": false}`)
	tok, err := LoadTokenizer(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{2, 4, 5, 6, 3}; !reflect.DeepEqual(tok.Encode("Ik geef hem").InputIDs, want) {
		t.Fatalf("unexpected ids %v", tok.Encode("Ik geef hem").InputIDs)
	}
	if got := tok.Encode("ik").InputIDs[1]; got != 1 {
		t.Fatalf("cased vocab must not match lowercase input, got %d", got)
	}
}

func TestLoadTokenizerErrors(t *testing.T) {
	if _, err := LoadTokenizer(t.TempDir()); err == nil {
		t.Fatal("expected error for empty dir")
	}

	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "tokenizer.json"), `{"model":{"vocab":{"[CLS]":1,"[SEP]":2}}}`)
	if _, err := LoadTokenizer(dir); err == nil || !strings.Contains(err.Error(), "[UNK]") {
		t.Fatalf("unexpected err %v", err)
	}

	dir = t.TempDir()
	mustWrite(t, filepath.Join(dir, "tokenizer.json"), "{")
	if _, err := LoadTokenizer(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
