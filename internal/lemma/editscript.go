// Package lemma turns a word and a predicted edit script into a lemma.
//
// An edit script is a sequence of instructions such as "-[en]+[e]" or
// "=[#3]-[s]". Instructions operate on the end of the word: a head/tail split
// is kept, suffixes are removed from or moved off the head, and additions are
// appended to the head. The result is head followed by tail.
package lemma

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrNoMatch = errors.New("edit script does not match word")

type Op byte

const (
	OpAdd        Op = '+'
	OpRemove     Op = '-'
	OpKeep       Op = '='
	OpKeepLength Op = '#'
)

type Instruction struct {
	Op     Op
	Text   string
	Length int
}

type Script struct {
	Instructions []Instruction
}

// Parse reads an edit script. Mode characters are only recognised outside
// brackets, so the bracketed text may contain '+', '-' or '='.
func Parse(script string) (Script, error) {
	var out Script
	mode := byte(0)
	inside := false
	var text strings.Builder
	for _, c := range script {
		if inside {
			if c == ']' {
				instr, err := newInstruction(mode, text.String())
				if err != nil {
					return Script{}, err
				}
				out.Instructions = append(out.Instructions, instr)
				inside = false
				mode = 0
				text.Reset()
				continue
			}
			text.WriteRune(c)
			continue
		}
		switch c {
		case '+', '-', '=':
			mode = byte(c)
		case '[':
			if mode == 0 {
				return Script{}, fmt.Errorf("parse edit script %q: bracket without mode", script)
			}
			inside = true
		}
	}
	if inside {
		return Script{}, fmt.Errorf("parse edit script %q: unterminated bracket", script)
	}
	return out, nil
}

func newInstruction(mode byte, text string) (Instruction, error) {
	switch mode {
	case '+':
		return Instruction{Op: OpAdd, Text: text}, nil
	case '-':
		return Instruction{Op: OpRemove, Text: text}, nil
	case '=':
		if strings.HasPrefix(text, "#") {
			if n, err := strconv.Atoi(text[1:]); err == nil && n >= 0 {
				return Instruction{Op: OpKeepLength, Length: n}, nil
			}
		}
		return Instruction{Op: OpKeep, Text: text}, nil
	default:
		return Instruction{}, fmt.Errorf("invalid edit script mode %q", mode)
	}
}

func (s Script) String() string {
	var b strings.Builder
	for _, in := range s.Instructions {
		switch in.Op {
		case OpKeepLength:
			fmt.Fprintf(&b, "=[#%d]", in.Length)
		default:
			fmt.Fprintf(&b, "%c[%s]", in.Op, in.Text)
		}
	}
	return b.String()
}

// Compute applies script to word. "0" and the empty script leave the word
// unchanged.
func Compute(word, script string) (string, error) {
	if script == "0" || script == "" {
		return word, nil
	}
	parsed, err := Parse(script)
	if err != nil {
		return "", err
	}
	return parsed.Apply(word)
}

func (s Script) Apply(word string) (string, error) {
	head := []rune(word)
	tail := []rune{}
	for _, in := range s.Instructions {
		switch in.Op {
		case OpAdd:
			head = append(head, []rune(in.Text)...)
		case OpRemove:
			suffix := []rune(in.Text)
			if !hasSuffix(head, suffix) {
				return "", fmt.Errorf("%w: unable to remove suffix %q from %q", ErrNoMatch, in.Text, string(head))
			}
			head = head[:len(head)-len(suffix)]
		case OpKeep:
			suffix := []rune(in.Text)
			if !hasSuffix(head, suffix) {
				return "", fmt.Errorf("%w: unable to keep suffix %q of %q", ErrNoMatch, in.Text, string(head))
			}
			tail = prepend(tail, head[len(head)-len(suffix):])
			head = head[:len(head)-len(suffix)]
		case OpKeepLength:
			if in.Length > len(head) {
				return "", fmt.Errorf("%w: length to keep %d is longer than %q", ErrNoMatch, in.Length, string(head))
			}
			tail = prepend(tail, head[len(head)-in.Length:])
			head = head[:len(head)-in.Length]
		}
	}
	return string(head) + string(tail), nil
}

func hasSuffix(s, suffix []rune) bool {
	if len(suffix) > len(s) {
		return false
	}
	off := len(s) - len(suffix)
	for i, r := range suffix {
		if s[off+i] != r {
			return false
		}
	}
	return true
}

func prepend(tail, part []rune) []rune {
	out := make([]rune, 0, len(part)+len(tail))
	out = append(out, part...)
	return append(out, tail...)
}
