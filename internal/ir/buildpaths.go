package ir

import "strings"

// scope is what identifiers may refer to while composing an expression.
type scope struct {
	// context aliases bound by entrypoints and actions, mapped to model names
	aliases map[string]string
	// from is the absolute path of the current record; identifiers not found
	// elsewhere resolve relative to it
	from []string
	// source is the owning record of a query; identifiers that are not
	// members of the from record resolve relative to it
	source []string
	// fromAliases maps query from-aliases to absolute path prefixes
	fromAliases map[string][]string
	variables   map[string]VarType
	// changeset names visible to setters of the same action
	changeset map[string]VarType
}

func modelScope(model string) *scope {
	return &scope{from: []string{model}}
}

func (s *scope) clone() *scope {
	out := &scope{
		aliases:     make(map[string]string, len(s.aliases)),
		from:        s.from,
		source:      s.source,
		fromAliases: s.fromAliases,
		variables:   s.variables,
		changeset:   s.changeset,
	}
	for k, v := range s.aliases {
		out.aliases[k] = v
	}
	return out
}

func (s *scope) bind(alias, model string) error {
	if _, ok := s.aliases[alias]; ok {
		return errAliasCollision(alias)
	}
	if s.aliases == nil {
		s.aliases = make(map[string]string)
	}
	s.aliases[alias] = model
	return nil
}

// TypedPath is a name path resolved against models: a root, zero or more
// record-valued nodes and an optional leaf.
type TypedPath struct {
	Source    AliasSource
	Root      string
	RootModel string
	Nodes     []*PathNode
	Leaf      *PathLeaf
}

type PathNode struct {
	Kind        MemberKind
	Name        string
	RefKey      string
	Model       string
	Cardinality Cardinality
	Nullable    bool
}

type PathLeaf struct {
	Kind   MemberKind
	Name   string
	RefKey string
	Type   VarType
}

func (p *TypedPath) IsRecord() bool { return p.Leaf == nil }

// TargetModel is the model of the last record on the path.
func (p *TypedPath) TargetModel() string {
	if len(p.Nodes) == 0 {
		return p.RootModel
	}
	return p.Nodes[len(p.Nodes)-1].Model
}

// Names returns the path as written.
func (p *TypedPath) Names() []string {
	out := []string{p.Root}
	for _, n := range p.Nodes {
		out = append(out, n.Name)
	}
	if p.Leaf != nil {
		out = append(out, p.Leaf.Name)
	}
	return out
}

// Nullable reports whether any step of the path may be missing.
func (p *TypedPath) Nullable() bool {
	for _, n := range p.Nodes {
		if n.Nullable {
			return true
		}
	}
	return p.Leaf != nil && p.Leaf.Type.Nullable
}

// firstCollection returns the index of the first to-many node at or after
// start, or -1.
func (p *TypedPath) firstCollection(start int) int {
	for i := start; i < len(p.Nodes); i++ {
		if p.Nodes[i].Cardinality == CardinalityMany {
			return i
		}
	}
	return -1
}

// ResolvePath resolves a name path against a composed Definition. The first
// segment is looked up in aliases (context alias to model name) and then among
// model names.
func ResolvePath(def *Definition, namePath []string, aliases map[string]string) (*TypedPath, error) {
	return resolvePath(def.Model, namePath, aliases)
}

func (b *builder) resolvePath(namePath []string, aliases map[string]string) (*TypedPath, error) {
	return resolvePath(b.model, namePath, aliases)
}

func resolvePath(lookup func(string) *ModelDef, namePath []string, aliases map[string]string) (*TypedPath, error) {
	if len(namePath) == 0 {
		return nil, failf("empty path")
	}
	tp := &TypedPath{Root: namePath[0]}
	var model *ModelDef
	if name, ok := aliases[namePath[0]]; ok {
		tp.Source = SourceContext
		model = lookup(name)
		if model == nil {
			return nil, errUnknownModel(name)
		}
	} else if model = lookup(namePath[0]); model != nil {
		tp.Source = SourceModel
	} else {
		return nil, errNotInContext(namePath[0])
	}
	tp.RootModel = model.Name

	for i, seg := range namePath[1:] {
		if tp.Leaf != nil {
			return nil, errNotAModel(namePath[:i+1])
		}
		kind, member := model.Member(seg)
		var node *PathNode
		switch kind {
		case MemberField:
			f := member.(*FieldDef)
			tp.Leaf = &PathLeaf{Kind: kind, Name: seg, RefKey: f.RefKey, Type: f.VarType()}
		case MemberComputed:
			c := member.(*ComputedDef)
			tp.Leaf = &PathLeaf{Kind: kind, Name: seg, RefKey: c.RefKey, Type: c.Type}
		case MemberAggregate:
			a := member.(*AggregateDef)
			tp.Leaf = &PathLeaf{Kind: kind, Name: seg, RefKey: a.RefKey, Type: a.Type}
		case MemberHook:
			h := member.(*ModelHookDef)
			tp.Leaf = &PathLeaf{Kind: kind, Name: seg, RefKey: h.RefKey, Type: VarType{Kind: TypeUnknown, Nullable: true}}
		case MemberReference:
			r := member.(*ReferenceDef)
			node = &PathNode{Kind: kind, Name: seg, RefKey: r.RefKey, Model: r.ToModelRefKey, Cardinality: CardinalityOne, Nullable: r.Nullable}
		case MemberRelation:
			r := member.(*RelationDef)
			node = &PathNode{Kind: kind, Name: seg, RefKey: r.RefKey, Model: r.FromModelRefKey, Cardinality: CardinalityMany}
			if r.Unique {
				node.Cardinality = CardinalityOne
				node.Nullable = true
			}
		case MemberQuery:
			q := member.(*QueryDef)
			node = &PathNode{Kind: kind, Name: seg, RefKey: q.RefKey, Model: q.TargetModel, Cardinality: q.Cardinality, Nullable: q.Cardinality == CardinalityOne}
		default:
			return nil, errUnknownMember(model.Name, seg)
		}
		if node != nil {
			tp.Nodes = append(tp.Nodes, node)
			model = lookup(node.Model)
			if model == nil {
				return nil, errUnknownModel(node.Model)
			}
		}
	}
	return tp, nil
}

// resolveScoped resolves an identifier written by the user. It returns the
// typed path and the path made absolute for model-sourced identifiers.
func (b *builder) resolveScoped(path []string, sc *scope) (*TypedPath, []string, error) {
	if prefix, ok := sc.fromAliases[path[0]]; ok {
		abs := concatPath(prefix, path[1:])
		tp, err := b.resolvePath(abs, nil)
		return tp, abs, err
	}
	if _, ok := sc.aliases[path[0]]; ok {
		tp, err := b.resolvePath(path, sc.aliases)
		return tp, path, err
	}
	if sc.from != nil {
		abs := concatPath(sc.from, path)
		tp, err := b.resolvePath(abs, nil)
		if err != nil && sc.source != nil {
			alt := concatPath(sc.source, path)
			if stp, serr := b.resolvePath(alt, nil); serr == nil {
				return stp, alt, nil
			}
		}
		return tp, abs, err
	}
	return nil, nil, errNotInContext(path[0])
}

// scopeStart is the index of the first path node outside the current record
// chain. Nodes from there on must be to-one unless aggregated.
func scopeStart(tp *TypedPath, sc *scope) int {
	if tp.Source != SourceModel || len(sc.from) == 0 || tp.Root != sc.from[0] {
		return 0
	}
	names := tp.Names()
	k := 0
	for k+1 < len(sc.from) && k+1 < len(names) && names[k+1] == sc.from[k+1] {
		k++
	}
	return k
}

func concatPath(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func pathString(p []string) string { return strings.Join(p, ".") }
