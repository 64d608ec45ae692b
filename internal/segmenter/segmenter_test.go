package segmenter

import (
	"math/rand"
	"strings"
	"testing"
)

func sentences(frags []Fragment) []string {
	var out []string
	for _, f := range frags {
		if f.Kind == KindSentence {
			out = append(out, f.Text)
		}
	}
	return out
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		want   []string
	}{
		{
			name:   "short reply without punctuation",
			deltas: []string{"你好"},
			want:   []string{"你好"},
		},
		{
			name:   "punctuation before minimum length is buffered",
			deltas: []string{"今天", "天气", "很好，", "是吧"},
			want:   []string{"今天天气很好，是吧"},
		},
		{
			name:   "punctuation at end of delta",
			deltas: []string{"我今天去了公园散步然后", "回家。", "晚饭吃了面"},
			want:   []string{"我今天去了公园散步然后回家。", "晚饭吃了面"},
		},
		{
			name:   "punctuation at start of delta",
			deltas: []string{"abcdefghijkl", ". Next"},
			want:   []string{"abcdefghijkl.", " Next"},
		},
		{
			name:   "punctuation in middle of delta",
			deltas: []string{"Hello there my", " friend, how are you"},
			want:   []string{"Hello there my friend,", " how are you"},
		},
		{
			name:   "whitespace does not count towards length",
			deltas: []string{"   short   ", "text!"},
			want:   []string{"   short   text!"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sentences(Split(tt.deltas, DefaultMinChars))
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d sentences %q, got %d %q", len(tt.want), tt.want, len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Sentence %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestPushAlwaysEmitsCharFirst(t *testing.T) {
	s := New(0)
	s.Push("abcdefghijklmn")
	frags := s.Push("op, qr")

	if len(frags) != 2 {
		t.Fatalf("Expected 2 fragments, got %d", len(frags))
	}
	if frags[0].Kind != KindChar || frags[0].Text != "op, qr" {
		t.Errorf("Expected char passthrough, got %+v", frags[0])
	}
	if frags[1].Kind != KindSentence || frags[1].Text != "abcdefghijklmnop," {
		t.Errorf("Expected sentence, got %+v", frags[1])
	}
}

func TestFinishIsLast(t *testing.T) {
	frags := Split([]string{"一二三", "四五"}, DefaultMinChars)
	last := frags[len(frags)-1]
	if last.Kind != KindFinish {
		t.Fatalf("Expected finish fragment last, got %v", last.Kind)
	}
	if last.Text != "一二三四五" {
		t.Errorf("Expected full text, got %q", last.Text)
	}
}

func TestEmptyStream(t *testing.T) {
	frags := Split(nil, DefaultMinChars)
	if len(frags) != 1 || frags[0].Kind != KindFinish || frags[0].Text != "" {
		t.Errorf("Expected a single empty finish fragment, got %+v", frags)
	}
}

func TestRoundTrip(t *testing.T) {
	alphabet := []rune("abc 你好世界,.!?，。？！、")
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		deltas := make([]string, rng.Intn(30))
		for j := range deltas {
			n := rng.Intn(6)
			var b strings.Builder
			for k := 0; k < n; k++ {
				b.WriteRune(alphabet[rng.Intn(len(alphabet))])
			}
			deltas[j] = b.String()
		}
		input := strings.Join(deltas, "")

		var chars, sents, finish strings.Builder
		for _, f := range Split(deltas, DefaultMinChars) {
			switch f.Kind {
			case KindChar:
				chars.WriteString(f.Text)
			case KindSentence:
				sents.WriteString(f.Text)
			case KindFinish:
				finish.WriteString(f.Text)
			}
		}

		if chars.String() != input {
			t.Fatalf("Char fragments: expected %q, got %q", input, chars.String())
		}
		if sents.String() != input {
			t.Fatalf("Sentence fragments: expected %q, got %q (deltas %q)", input, sents.String(), deltas)
		}
		if finish.String() != input {
			t.Fatalf("Finish fragment: expected %q, got %q", input, finish.String())
		}
	}
}

func TestKindMarshalText(t *testing.T) {
	b, err := KindSentence.MarshalText()
	if err != nil || string(b) != "sentence" {
		t.Errorf("Expected sentence, got %q (%v)", b, err)
	}
}
