package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/23skdu/longbow-parley/internal/metrics"
)

// Reserved ids shared by every vocabulary.
const (
	PadID = 0
	EOSID = 1
	BOSID = 2
	UnkID = 3
)

// SpaceMarker stands in for a literal space inside vocabulary pieces.
const SpaceMarker = "▁"

var ErrUnknownToken = errors.New("token id outside vocabulary")

type Tokenizer struct {
	Tokens []string
	Vocab  map[string]int
	Scores []float32

	maxPieceLen int
}

// New loads a vocabulary file. Each non-empty line holds a piece and an
// optional score separated by a tab; the line number (from zero) is the id.
// The escapes \n and \t are recognised inside pieces.
func New(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()

	var pieces []string
	var scores []float32
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		piece, scoreText, hasScore := strings.Cut(text, "\t")
		var score float64
		if hasScore {
			score, err = strconv.ParseFloat(strings.TrimSpace(scoreText), 32)
			if err != nil {
				return nil, fmt.Errorf("vocabulary line %d: invalid score %q", line, scoreText)
			}
		}
		pieces = append(pieces, unescape(piece))
		scores = append(scores, float32(score))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}

	return FromPieces(pieces, scores)
}

// FromPieces builds a tokenizer from an in-memory vocabulary. The first four
// pieces must be the reserved pad, eos, bos and unk tokens.
func FromPieces(pieces []string, scores []float32) (*Tokenizer, error) {
	if len(pieces) <= UnkID {
		return nil, fmt.Errorf("vocabulary has %d pieces, need at least %d reserved", len(pieces), UnkID+1)
	}
	if scores != nil && len(scores) != len(pieces) {
		return nil, fmt.Errorf("vocabulary has %d pieces but %d scores", len(pieces), len(scores))
	}
	if scores == nil {
		scores = make([]float32, len(pieces))
	}

	t := &Tokenizer{
		Tokens: pieces,
		Vocab:  make(map[string]int, len(pieces)),
		Scores: scores,
	}
	for i, p := range pieces {
		if _, dup := t.Vocab[p]; dup {
			continue
		}
		t.Vocab[p] = i
		if i > UnkID && len(p) > t.maxPieceLen {
			t.maxPieceLen = len(p)
		}
	}
	return t, nil
}

func (t *Tokenizer) VocabSize() int { return len(t.Tokens) }

// Encode splits text by greedy longest match against the vocabulary. Bytes
// no piece covers become the unk token.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	start := time.Now()
	s := strings.ReplaceAll(text, " ", SpaceMarker)

	ids := make([]int, 0, len(s)/2+1)
	for i := 0; i < len(s); {
		n := t.maxPieceLen
		if rem := len(s) - i; rem < n {
			n = rem
		}
		matched := false
		for ; n > 0; n-- {
			if id, ok := t.Vocab[s[i:i+n]]; ok && id > UnkID {
				ids = append(ids, id)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			ids = append(ids, UnkID)
			i += runeLen(s[i:])
		}
	}

	metrics.RecordTokenizerEncode(len(ids), time.Since(start))
	return ids, nil
}

// Decode concatenates the text of ids. Reserved control ids decode to the
// empty string; ids outside the vocabulary are an error.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.Tokens) {
			return "", fmt.Errorf("%w: %d (vocab size %d)", ErrUnknownToken, id, len(t.Tokens))
		}
		switch id {
		case PadID, EOSID, BOSID:
			continue
		}
		sb.WriteString(t.Tokens[id])
	}
	return strings.ReplaceAll(sb.String(), SpaceMarker, " "), nil
}

func runeLen(s string) int {
	for i := range s {
		if i > 0 {
			return i
		}
	}
	return len(s)
}

func unescape(piece string) string {
	if !strings.Contains(piece, `\`) {
		return piece
	}
	r := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\\`, `\`)
	return r.Replace(piece)
}
