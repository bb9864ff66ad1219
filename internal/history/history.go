// Package history exports session transcripts as Arrow IPC streams, one row
// per turn.
package history

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-parley/internal/session"
)

const (
	colTurn = iota
	colRawPrompt
	colPromptTokens
	colResponse
	colGenerated
	colEndedByEOS
	colCancelled
)

var schema = arrow.NewSchema([]arrow.Field{
	{Name: "turn", Type: arrow.PrimitiveTypes.Int32},
	{Name: "raw_prompt", Type: arrow.BinaryTypes.String},
	{Name: "prompt_tokens", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	{Name: "response", Type: arrow.BinaryTypes.String},
	{Name: "generated", Type: arrow.PrimitiveTypes.Int32},
	{Name: "ended_by_eos", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "cancelled", Type: arrow.FixedWidthTypes.Boolean},
}, nil)

func Schema() *arrow.Schema { return schema }

// NewRecord builds a record from turns. The caller releases it.
func NewRecord(mem memory.Allocator, turns []session.Turn) arrow.Record {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	turnB := b.Field(colTurn).(*array.Int32Builder)
	rawB := b.Field(colRawPrompt).(*array.StringBuilder)
	listB := b.Field(colPromptTokens).(*array.ListBuilder)
	tokB := listB.ValueBuilder().(*array.Int32Builder)
	respB := b.Field(colResponse).(*array.StringBuilder)
	genB := b.Field(colGenerated).(*array.Int32Builder)
	eosB := b.Field(colEndedByEOS).(*array.BooleanBuilder)
	cancelB := b.Field(colCancelled).(*array.BooleanBuilder)

	for i, t := range turns {
		turnB.Append(int32(i))
		rawB.Append(t.RawPrompt)
		listB.Append(true)
		for _, id := range t.Tokens {
			tokB.Append(int32(id))
		}
		respB.Append(t.Response)
		genB.Append(int32(t.Generated))
		eosB.Append(t.EndedByEOS)
		cancelB.Append(t.Cancelled)
	}
	return b.NewRecord()
}

// Write encodes turns as a single-batch IPC stream.
func Write(w io.Writer, turns []session.Turn) error {
	mem := memory.NewGoAllocator()
	rec := NewRecord(mem, turns)
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := iw.Write(rec); err != nil {
		iw.Close()
		return fmt.Errorf("failed to write history batch: %w", err)
	}
	return iw.Close()
}

func WriteFile(path string, turns []session.Turn) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}
	if err := Write(f, turns); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read decodes every batch of an IPC stream written by Write.
func Read(r io.Reader) ([]session.Turn, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to open history stream: %w", err)
	}
	defer rdr.Release()

	if !rdr.Schema().Equal(schema) {
		return nil, errors.New("history stream has an unexpected schema")
	}

	var turns []session.Turn
	for rdr.Next() {
		turns = append(turns, fromRecord(rdr.Record())...)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read history stream: %w", err)
	}
	return turns, nil
}

func fromRecord(rec arrow.Record) []session.Turn {
	raw := rec.Column(colRawPrompt).(*array.String)
	lists := rec.Column(colPromptTokens).(*array.List)
	toks := lists.ListValues().(*array.Int32)
	resp := rec.Column(colResponse).(*array.String)
	gen := rec.Column(colGenerated).(*array.Int32)
	eos := rec.Column(colEndedByEOS).(*array.Boolean)
	cancel := rec.Column(colCancelled).(*array.Boolean)

	out := make([]session.Turn, rec.NumRows())
	for i := range out {
		start, end := lists.ValueOffsets(i)
		tokens := make([]int, 0, end-start)
		for j := start; j < end; j++ {
			tokens = append(tokens, int(toks.Value(int(j))))
		}
		out[i] = session.Turn{
			RawPrompt:  raw.Value(i),
			Tokens:     tokens,
			Response:   resp.Value(i),
			Generated:  int(gen.Value(i)),
			EndedByEOS: eos.Value(i),
			Cancelled:  cancel.Value(i),
		}
	}
	return out
}
