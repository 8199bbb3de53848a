package workflow

import (
	"fmt"
	"slices"
)

// Role restricts which sides of a node accept connections.
type Role string

const (
	// RoleDefault nodes have one input side and one or more outputs.
	RoleDefault Role = "default"
	// RoleInput nodes only have outputs.
	RoleInput Role = "input"
	// RoleOutput nodes only have an input.
	RoleOutput Role = "output"
)

func (r Role) valid() bool {
	switch r {
	case RoleDefault, RoleInput, RoleOutput:
		return true
	}
	return false
}

// AcceptsOutgoing reports whether edges may start at a node with this role.
func (r Role) AcceptsOutgoing() bool { return r != RoleOutput }

// AcceptsIncoming reports whether edges may end at a node with this role.
func (r Role) AcceptsIncoming() bool { return r != RoleInput }

// KindSpec describes one draggable operation kind.
type KindSpec struct {
	Name    string   `json:"name" yaml:"name"`
	Variant Variant  `json:"variant,omitempty" yaml:"variant,omitempty"`
	Role    Role     `json:"role,omitempty" yaml:"role,omitempty"`
	Handles []string `json:"handles,omitempty" yaml:"handles,omitempty"`
	// Model is the default model for llm kinds.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
}

// HasHandle reports whether the kind declares the named output handle.
// The empty handle is the single unnamed output of kinds without named handles.
func (k KindSpec) HasHandle(handle string) bool {
	if handle == "" {
		return len(k.Handles) == 0
	}
	return slices.Contains(k.Handles, handle)
}

// Category groups palette kinds under a display name and icon.
type Category struct {
	Name  string     `json:"name" yaml:"name"`
	Icon  string     `json:"icon" yaml:"icon"`
	Items []KindSpec `json:"items" yaml:"items"`
}

// Registry is the read-only set of node kinds known to an editor.
// Palette categories keep their configured order; builtin kinds are known
// but not draggable (they appear in seeded or imported documents).
type Registry struct {
	categories []Category
	kinds      map[string]KindSpec
	palette    map[string]struct{}
	order      []string
}

// NewRegistry validates categories and builtins and indexes every kind by name.
func NewRegistry(categories []Category, builtins []KindSpec) (*Registry, error) {
	r := &Registry{
		categories: make([]Category, 0, len(categories)),
		kinds:      make(map[string]KindSpec),
		palette:    make(map[string]struct{}),
	}

	for _, cat := range categories {
		if cat.Name == "" {
			return nil, fmt.Errorf("palette category name is required")
		}
		items := make([]KindSpec, 0, len(cat.Items))
		for _, item := range cat.Items {
			spec, err := r.add(item)
			if err != nil {
				return nil, fmt.Errorf("category %q: %w", cat.Name, err)
			}
			items = append(items, spec)
			r.palette[spec.Name] = struct{}{}
		}
		r.categories = append(r.categories, Category{Name: cat.Name, Icon: cat.Icon, Items: items})
	}
	for _, b := range builtins {
		if _, err := r.add(b); err != nil {
			return nil, fmt.Errorf("builtin kind: %w", err)
		}
	}
	return r, nil
}

func (r *Registry) add(spec KindSpec) (KindSpec, error) {
	if spec.Name == "" {
		return KindSpec{}, fmt.Errorf("kind name is required")
	}
	if _, dup := r.kinds[spec.Name]; dup {
		return KindSpec{}, fmt.Errorf("duplicate kind %q", spec.Name)
	}
	if spec.Role == "" {
		spec.Role = RoleDefault
	}
	if !spec.Role.valid() {
		return KindSpec{}, fmt.Errorf("kind %q: unknown role %q", spec.Name, spec.Role)
	}
	if !spec.Variant.valid() {
		return KindSpec{}, fmt.Errorf("kind %q: unknown variant %q", spec.Name, spec.Variant)
	}
	if spec.Variant == VariantLLM && spec.Model == "" {
		spec.Model = spec.Name
	}
	if spec.Role == RoleOutput && len(spec.Handles) > 0 {
		return KindSpec{}, fmt.Errorf("kind %q: output nodes cannot declare output handles", spec.Name)
	}
	seen := make(map[string]struct{}, len(spec.Handles))
	for _, h := range spec.Handles {
		if h == "" {
			return KindSpec{}, fmt.Errorf("kind %q: empty handle name", spec.Name)
		}
		if !ValidIDPart(h) {
			return KindSpec{}, fmt.Errorf("kind %q: handle %q must not contain any of %q", spec.Name, h, EdgeIDSeparators)
		}
		if _, dup := seen[h]; dup {
			return KindSpec{}, fmt.Errorf("kind %q: duplicate handle %q", spec.Name, h)
		}
		seen[h] = struct{}{}
	}
	spec.Handles = slices.Clone(spec.Handles)

	r.kinds[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	return spec, nil
}

// Lookup returns the spec for a kind.
func (r *Registry) Lookup(kind string) (KindSpec, bool) {
	spec, ok := r.kinds[kind]
	return spec, ok
}

// Draggable returns the spec for a kind listed in a palette category.
// Builtin kinds are known to Lookup but cannot be dragged onto the canvas.
func (r *Registry) Draggable(kind string) (KindSpec, bool) {
	if _, ok := r.palette[kind]; !ok {
		return KindSpec{}, false
	}
	return r.Lookup(kind)
}

// Categories returns a copy of the palette.
func (r *Registry) Categories() []Category {
	out := make([]Category, len(r.categories))
	for i, cat := range r.categories {
		items := make([]KindSpec, len(cat.Items))
		for j, item := range cat.Items {
			item.Handles = slices.Clone(item.Handles)
			items[j] = item
		}
		out[i] = Category{Name: cat.Name, Icon: cat.Icon, Items: items}
	}
	return out
}

// Kinds returns every known kind name in registration order.
func (r *Registry) Kinds() []string {
	return slices.Clone(r.order)
}

// DefaultCategories is the stock palette.
func DefaultCategories() []Category {
	return []Category{
		{
			Name: "控制流",
			Icon: "beaker",
			Items: []KindSpec{
				{Name: "条件判断", Variant: VariantBranch, Handles: []string{"true", "false"}},
				{Name: "循环", Variant: VariantLoop, Handles: []string{"body", "done"}},
				{Name: "随机选择", Variant: VariantRandom},
			},
		},
		{
			Name: "文本处理",
			Icon: "circle-stack",
			Items: []KindSpec{
				{Name: "文本分割", Variant: VariantSplit},
				{Name: "文本合并", Variant: VariantMerge},
			},
		},
		{
			Name: "AI大语言模型",
			Icon: "circle-stack",
			Items: []KindSpec{
				{Name: "ChatGPT 3.5", Variant: VariantLLM, Model: "gpt-3.5-turbo"},
				{Name: "ChatGPT 4", Variant: VariantLLM, Model: "gpt-4"},
				{Name: "ChatGLM", Variant: VariantLLM, Model: "chatglm"},
			},
		},
	}
}

// BuiltinKinds are the kinds used by seeded documents.
func BuiltinKinds() []KindSpec {
	return []KindSpec{
		{Name: "default", Role: RoleDefault},
		{Name: "input", Role: RoleInput},
		{Name: "output", Role: RoleOutput},
		{Name: "op", Role: RoleDefault, Handles: []string{"a", "b"}},
	}
}

// DefaultRegistry builds the stock registry.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultCategories(), BuiltinKinds())
	if err != nil {
		panic(fmt.Sprintf("workflow: default registry: %v", err))
	}
	return r
}
