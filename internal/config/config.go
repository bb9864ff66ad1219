package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"
)

// SeqLen is the longest context window the engine supports.
const SeqLen = 8192

// PrefillBatchSize is the number of prompt tokens the engine consumes per
// prefill step.
const PrefillBatchSize = 16

type PrecisionMode int

const (
	PrecisionAuto PrecisionMode = iota
	PrecisionFP16
	PrecisionF32FFN
	PrecisionMixed
)

func (p PrecisionMode) String() string {
	switch p {
	case PrecisionFP16:
		return "fp16"
	case PrecisionF32FFN:
		return "f32ffn"
	case PrecisionMixed:
		return "mixed"
	default:
		return "auto"
	}
}

func ParsePrecision(s string) (PrecisionMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return PrecisionAuto, nil
	case "fp16":
		return PrecisionFP16, nil
	case "f32ffn":
		return PrecisionF32FFN, nil
	case "mixed":
		return PrecisionMixed, nil
	}
	return PrecisionAuto, fmt.Errorf("unknown precision %q", s)
}

var modelTypes = []string{"2b-it", "2b-pt", "7b-it", "7b-pt"}

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError reports a setting whose value is outside its accepted domain.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s (%s)", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Field is a single named setting. Only Value changes after construction.
type Field struct {
	Name      string
	Group     string
	Help      string
	Default   Value
	Value     Value
	Verbosity int

	check func(*Store, Value) error
}

// IsDefault reports whether the current value equals the default.
func (f *Field) IsDefault() bool {
	return f.Value.Equal(f.Default)
}

// Store holds the fixed, ordered set of settings for one session.
type Store struct {
	fields []*Field
	index  map[string]*Field
	frozen bool
}

// Default returns a Store with every field at its default value.
func Default() *Store {
	s := &Store{index: make(map[string]*Field)}

	s.add("loader", "tokenizer", Path(""), 1,
		"Path name of tokenizer model file.\n    Required argument.", checkReadable(true))
	s.add("loader", "compressed_weights", Path(""), 1,
		"Path name of compressed weights file, regenerated from `--weights` file if\n    the compressed weights file does not exist.\n    Required argument.", checkReadable(true))
	s.add("loader", "model", String("2b-it"), 1,
		"Model type\n    2b-it = 2B parameters, instruction-tuned\n    2b-pt = 2B parameters, pretrained\n    7b-it = 7B parameters instruction-tuned\n    7b-pt = 7B parameters, pretrained", checkModel)
	s.add("loader", "weights", Path(""), 2,
		"Path name of model weights (.sbs) file. Only required if compressed_weights\n    file is not present and needs to be regenerated.", checkReadable(false))

	s.add("inference", "max_tokens", Int(3072), 1,
		"Maximum number of tokens in prompt + generation.", checkMaxTokens)
	s.add("inference", "max_generated_tokens", Int(2048), 1,
		"Maximum number of tokens to generate.", checkMaxGenerated)
	s.add("inference", "temperature", Real(1.0), 1,
		"Temperature for top-K", checkNonNegative)
	s.add("inference", "top_k", Int(1), 2,
		"Number of top candidates considered when sampling.", checkPositive)
	s.add("inference", "top_p", Real(1.0), 2,
		"Nucleus sampling mass in (0, 1]. 1 disables it.", checkProbability)
	s.add("inference", "repetition_penalty", Real(1.0), 2,
		"Penalty applied to tokens seen in the last 64 context tokens. 1 disables it.", checkPenalty)
	s.add("inference", "deterministic", Bool(false), 1,
		"Make top-k sampling deterministic", nil)
	s.add("inference", "multiturn", Bool(false), 1,
		"Multiturn mode\n    0 = clear KV cache after every interaction\n    1 = continue KV cache after every interaction\n    Default : 0 (conversation resets every turn)", nil)
	s.add("inference", "precision", String("auto"), 2,
		"Numeric precision used by the engine (auto, fp16, f32ffn, mixed).", checkPrecision)

	s.add("app", "log", Path(""), 1,
		"Log file. Default: stderr.", nil)
	s.add("app", "log_level", String("info"), 2,
		"Log level (debug, info, warn, error).", nil)
	s.add("app", "verbosity", Int(1), 1,
		"Show verbose developer information\n    0 = only print generation output\n    1 = standard user-facing terminal ui\n    2 = show developer/debug info).\n    Default = 1.", checkVerbosity)
	s.add("app", "num_threads", Int(int64(defaultThreads())), 1,
		"Number of threads to use.\n    Default = Estimate of the number of supported concurrent threads.", checkPositive)
	s.add("app", "eot_line", String(""), 2,
		"End of turn line. When you read this, the prompt is considered complete.\n    Useful when pasting multi-line prompts.\n    Default = When a newline is read, the prompt is considered complete.", nil)

	return s
}

// New builds a Store from a name → text mapping and validates it. No Store is
// returned when any option is unknown, unparsable or out of domain.
func New(options map[string]string) (*Store, error) {
	s := Default()
	for _, name := range sortedKeys(options) {
		if err := s.Set(name, options[name]); err != nil {
			return nil, err
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func defaultThreads() int {
	n := runtime.NumCPU() - 2
	if n > 18 {
		n = 18
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (s *Store) add(group, name string, def Value, verbosity int, help string, check func(*Store, Value) error) {
	f := &Field{
		Name:      name,
		Group:     group,
		Help:      help,
		Default:   def,
		Value:     def,
		Verbosity: verbosity,
		check:     check,
	}
	s.fields = append(s.fields, f)
	s.index[name] = f
}

// Set parses raw into the named field.
func (s *Store) Set(name, raw string) error {
	f, ok := s.index[name]
	if !ok {
		return &ValidationError{Field: name, Reason: "unknown option"}
	}
	if s.frozen {
		return fmt.Errorf("config: %s cannot change after generation has started", name)
	}
	v, err := f.Default.parse(raw)
	if err != nil {
		return &ValidationError{Field: name, Value: raw, Reason: err.Error()}
	}
	f.Value = v
	return nil
}

// Freeze rejects any further Set. Sessions call it before their first turn.
func (s *Store) Freeze() { s.frozen = true }

// Lookup returns a copy of the named field; changes go through Set.
func (s *Store) Lookup(name string) (Field, bool) {
	f, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

func (s *Store) value(name string) Value {
	if f, ok := s.index[name]; ok {
		return f.Value
	}
	return Value{}
}

func (s *Store) Int(name string) int64    { return s.value(name).AsInt() }
func (s *Store) Real(name string) float64 { return s.value(name).AsReal() }
func (s *Store) Bool(name string) bool    { return s.value(name).AsBool() }
func (s *Store) Text(name string) string  { return s.value(name).AsString() }

// Clone returns an unfrozen copy with the same current values.
func (s *Store) Clone() *Store {
	c := Default()
	for _, f := range s.fields {
		c.index[f.Name].Value = f.Value
	}
	return c
}

// Validate checks every field in declaration order and returns the first
// violation.
func (s *Store) Validate() error {
	for _, f := range s.fields {
		if f.check == nil {
			continue
		}
		if err := f.check(s, f.Value); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return err
			}
			return &ValidationError{Field: f.Name, Value: f.Value.String(), Reason: err.Error()}
		}
	}
	return nil
}

// InstructionTuned reports whether the configured model expects the chat
// template.
func (s *Store) InstructionTuned() bool {
	return strings.HasSuffix(s.Text("model"), "-it")
}

func (s *Store) Precision() PrecisionMode {
	p, _ := ParsePrecision(s.Text("precision"))
	return p
}

func checkReadable(required bool) func(*Store, Value) error {
	return func(_ *Store, v Value) error {
		path := v.AsString()
		if path == "" {
			if required {
				return errors.New("missing required path")
			}
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("cannot read file: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("cannot read file: %w", err)
		}
		if !info.Mode().IsRegular() {
			return errors.New("not a regular file")
		}
		return nil
	}
}

func checkModel(_ *Store, v Value) error {
	for _, m := range modelTypes {
		if v.AsString() == m {
			return nil
		}
	}
	return fmt.Errorf("model type must be one of %s", strings.Join(modelTypes, ", "))
}

func checkMaxTokens(_ *Store, v Value) error {
	if v.AsInt() <= 0 {
		return errors.New("must be positive")
	}
	if v.AsInt() > SeqLen {
		return fmt.Errorf("larger than the maximum sequence length %d", SeqLen)
	}
	return nil
}

func checkMaxGenerated(s *Store, v Value) error {
	if v.AsInt() <= 0 {
		return errors.New("must be positive")
	}
	if v.AsInt() > s.Int("max_tokens") {
		return errors.New("larger than max_tokens")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func checkNonNegative(_ *Store, v Value) error {
	if f := v.AsReal(); !finite(f) || f < 0 {
		return errors.New("must be a finite non-negative number")
	}
	return nil
}

func checkProbability(_ *Store, v Value) error {
	if f := v.AsReal(); !finite(f) || f <= 0 || f > 1 {
		return errors.New("must be in (0, 1]")
	}
	return nil
}

func checkPenalty(_ *Store, v Value) error {
	if f := v.AsReal(); !finite(f) || f < 1 {
		return errors.New("must be a finite number of at least 1")
	}
	return nil
}

func checkPositive(_ *Store, v Value) error {
	if v.AsInt() < 1 {
		return errors.New("must be at least 1")
	}
	return nil
}

func checkVerbosity(_ *Store, v Value) error {
	if v.AsInt() < 0 || v.AsInt() > 2 {
		return errors.New("must be 0, 1 or 2")
	}
	return nil
}

func checkPrecision(_ *Store, v Value) error {
	_, err := ParsePrecision(v.AsString())
	return err
}
