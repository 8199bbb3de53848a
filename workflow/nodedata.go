package workflow

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BaSui01/flowcanvas/types"
)

// Variant selects which payload a node kind carries.
type Variant string

const (
	VariantNone   Variant = ""
	VariantBranch Variant = "branch"
	VariantLoop   Variant = "loop"
	VariantRandom Variant = "random"
	VariantSplit  Variant = "split"
	VariantMerge  Variant = "merge"
	VariantLLM    Variant = "llm"
)

func (v Variant) valid() bool {
	switch v {
	case VariantNone, VariantBranch, VariantLoop, VariantRandom, VariantSplit, VariantMerge, VariantLLM:
		return true
	}
	return false
}

// BranchData configures a conditional branch.
type BranchData struct {
	Expression string `json:"expression" yaml:"expression" validate:"max=1024"`
}

// LoopData configures a bounded loop.
type LoopData struct {
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" validate:"gte=1,lte=10000"`
}

// RandomData configures a random choice between outputs.
type RandomData struct {
	Choices int `json:"choices" yaml:"choices" validate:"gte=2,lte=64"`
}

// SplitData configures text splitting.
type SplitData struct {
	Separator string `json:"separator" yaml:"separator"`
	ChunkSize int    `json:"chunk_size" yaml:"chunk_size" validate:"gte=0"`
}

// MergeData configures text merging.
type MergeData struct {
	Separator string `json:"separator" yaml:"separator"`
}

// LLMData configures a language model call.
type LLMData struct {
	Model       string  `json:"model" yaml:"model" validate:"required,max=128"`
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	Prompt      string  `json:"prompt,omitempty" yaml:"prompt,omitempty" validate:"max=32768"`
}

// NodeData is a tagged variant: at most one payload is set, and it must
// match the variant of the node's kind.
type NodeData struct {
	Branch *BranchData `json:"branch,omitempty" yaml:"branch,omitempty"`
	Loop   *LoopData   `json:"loop,omitempty" yaml:"loop,omitempty"`
	Random *RandomData `json:"random,omitempty" yaml:"random,omitempty"`
	Split  *SplitData  `json:"split,omitempty" yaml:"split,omitempty"`
	Merge  *MergeData  `json:"merge,omitempty" yaml:"merge,omitempty"`
	LLM    *LLMData    `json:"llm,omitempty" yaml:"llm,omitempty"`
}

// Variant returns the variant of the single set payload.
// Returns an error if more than one payload is set.
func (d *NodeData) Variant() (Variant, error) {
	if d == nil {
		return VariantNone, nil
	}
	var set []Variant
	if d.Branch != nil {
		set = append(set, VariantBranch)
	}
	if d.Loop != nil {
		set = append(set, VariantLoop)
	}
	if d.Random != nil {
		set = append(set, VariantRandom)
	}
	if d.Split != nil {
		set = append(set, VariantSplit)
	}
	if d.Merge != nil {
		set = append(set, VariantMerge)
	}
	if d.LLM != nil {
		set = append(set, VariantLLM)
	}
	switch len(set) {
	case 0:
		return VariantNone, nil
	case 1:
		return set[0], nil
	default:
		return VariantNone, fmt.Errorf("multiple payloads set: %v", set)
	}
}

// Clone returns a deep copy.
func (d *NodeData) Clone() *NodeData {
	if d == nil {
		return nil
	}
	out := &NodeData{}
	if d.Branch != nil {
		v := *d.Branch
		out.Branch = &v
	}
	if d.Loop != nil {
		v := *d.Loop
		out.Loop = &v
	}
	if d.Random != nil {
		v := *d.Random
		out.Random = &v
	}
	if d.Split != nil {
		v := *d.Split
		out.Split = &v
	}
	if d.Merge != nil {
		v := *d.Merge
		out.Merge = &v
	}
	if d.LLM != nil {
		v := *d.LLM
		out.LLM = &v
	}
	return out
}

// DefaultNodeData returns the initial payload for a kind, or nil when the kind has no variant.
func DefaultNodeData(spec KindSpec) *NodeData {
	switch spec.Variant {
	case VariantBranch:
		return &NodeData{Branch: &BranchData{}}
	case VariantLoop:
		return &NodeData{Loop: &LoopData{MaxIterations: 10}}
	case VariantRandom:
		return &NodeData{Random: &RandomData{Choices: 2}}
	case VariantSplit:
		return &NodeData{Split: &SplitData{Separator: "\n"}}
	case VariantMerge:
		return &NodeData{Merge: &MergeData{Separator: "\n"}}
	case VariantLLM:
		return &NodeData{LLM: &LLMData{Model: spec.Model, Temperature: 0.7}}
	}
	return nil
}

var payloadValidate = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateNodeData checks that data matches the kind's variant and that the payload
// satisfies its field constraints. Failures carry INVALID_NODE_DATA.
func ValidateNodeData(spec KindSpec, data *NodeData) error {
	got, err := data.Variant()
	if err != nil {
		return types.NewError(types.ErrInvalidNodeData, "ambiguous node data").WithCause(err)
	}
	if got != spec.Variant {
		return types.Errorf(types.ErrInvalidNodeData, "kind %q expects %s payload, got %s",
			spec.Name, variantName(spec.Variant), variantName(got))
	}

	var payload any
	switch got {
	case VariantNone:
		return nil
	case VariantBranch:
		payload = data.Branch
	case VariantLoop:
		payload = data.Loop
	case VariantRandom:
		payload = data.Random
	case VariantSplit:
		payload = data.Split
	case VariantMerge:
		payload = data.Merge
	case VariantLLM:
		payload = data.LLM
	}

	if err := payloadValidate.Struct(payload); err != nil {
		return types.Errorf(types.ErrInvalidNodeData, "%s payload: %s", got, describeValidation(err)).WithCause(err)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func variantName(v Variant) string {
	if v == VariantNone {
		return "no"
	}
	return string(v)
}
