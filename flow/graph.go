package flow

import "fmt"

// End is the terminal marker. Routing to End completes the session.
const End = "__end__"

// Router decides which labeled edge to take after a step with conditional
// outcomes. Routers are pure and synchronous: they read the post-update state
// and return a label declared in the conditional edge's target map. They
// perform no I/O.
type Router func(state State) string

// conditional is a compiled conditional edge: a router plus its closed label
// set.
type conditional struct {
	router  Router
	targets map[string]string
}

// parallel is a compiled fan-out: branch steps run concurrently and their
// deltas merge in registration order before control reaches the join step.
type parallel struct {
	branches []string
	join     string
}

// Builder accumulates a workflow graph definition. Build order is free;
// cross-references are validated once at Compile. Builder methods return
// *GraphError immediately only for defects detectable in isolation (empty
// names, duplicate registrations, nil functions).
type Builder struct {
	steps     map[string]Step
	edges     map[string]string
	conds     map[string]conditional
	parallels map[string]parallel
	start     string
	err       error
}

// NewBuilder creates an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{
		steps:     make(map[string]Step),
		edges:     make(map[string]string),
		conds:     make(map[string]conditional),
		parallels: make(map[string]parallel),
	}
}

// fail records the first builder-level defect; Compile reports it.
func (b *Builder) fail(code, msg string) *Builder {
	if b.err == nil {
		b.err = &GraphError{Message: msg, Code: code}
	}
	return b
}

// AddStep registers a named step. Names must be unique and may not collide
// with the End marker.
func (b *Builder) AddStep(name string, step Step) *Builder {
	if name == "" || name == End {
		return b.fail("INVALID_STEP_NAME", "step name cannot be empty or the terminal marker")
	}
	if step == nil {
		return b.fail("NIL_STEP", "step cannot be nil: "+name)
	}
	if _, exists := b.steps[name]; exists {
		return b.fail("DUPLICATE_STEP", "duplicate step name: "+name)
	}
	b.steps[name] = step
	return b
}

// AddEdge declares the unconditional transition from -> to. A step has at
// most one outgoing route declaration (edge, conditional, or parallel).
func (b *Builder) AddEdge(from, to string) *Builder {
	if from == "" || to == "" {
		return b.fail("INVALID_EDGE", "edge endpoints cannot be empty")
	}
	if b.hasRoute(from) {
		return b.fail("DUPLICATE_ROUTE", "step already has an outgoing route: "+from)
	}
	b.edges[from] = to
	return b
}

// AddConditionalEdge declares that after from, router selects among the
// labeled targets. The target map's keys form the closed set of labels the
// router may legally return; a target may be End.
func (b *Builder) AddConditionalEdge(from string, router Router, targets map[string]string) *Builder {
	if from == "" {
		return b.fail("INVALID_EDGE", "conditional edge source cannot be empty")
	}
	if router == nil {
		return b.fail("NIL_ROUTER", "conditional edge router cannot be nil: "+from)
	}
	if len(targets) == 0 {
		return b.fail("NO_TARGETS", "conditional edge has no labeled targets: "+from)
	}
	if b.hasRoute(from) {
		return b.fail("DUPLICATE_ROUTE", "step already has an outgoing route: "+from)
	}
	copied := make(map[string]string, len(targets))
	for label, to := range targets {
		if label == "" || to == "" {
			return b.fail("INVALID_EDGE", "conditional edge label and target cannot be empty: "+from)
		}
		copied[label] = to
	}
	b.conds[from] = conditional{router: router, targets: copied}
	return b
}

// AddParallel declares that after from, the branch steps execute
// concurrently; once every branch has contributed its delta, control moves to
// join. Branch deltas are applied in the registration order given here, which
// makes the merged result deterministic regardless of completion order.
// Branch steps must not pause.
func (b *Builder) AddParallel(from string, branches []string, join string) *Builder {
	if from == "" || join == "" {
		return b.fail("INVALID_EDGE", "parallel endpoints cannot be empty")
	}
	if len(branches) == 0 {
		return b.fail("NO_BRANCHES", "parallel fan-out has no branches: "+from)
	}
	if b.hasRoute(from) {
		return b.fail("DUPLICATE_ROUTE", "step already has an outgoing route: "+from)
	}
	copied := make([]string, len(branches))
	copy(copied, branches)
	b.parallels[from] = parallel{branches: copied, join: join}
	return b
}

// SetStart designates the entry step.
func (b *Builder) SetStart(name string) *Builder {
	if name == "" {
		return b.fail("INVALID_START", "start step name cannot be empty")
	}
	b.start = name
	return b
}

func (b *Builder) hasRoute(from string) bool {
	if _, ok := b.edges[from]; ok {
		return true
	}
	if _, ok := b.conds[from]; ok {
		return true
	}
	_, ok := b.parallels[from]
	return ok
}

// Compile validates the accumulated definition and returns an immutable
// Graph. It fails with *GraphError if:
//   - any builder call recorded a defect,
//   - no start step was designated, or it is unregistered,
//   - an edge, conditional target, or parallel branch references an
//     unregistered step,
//   - a step reachable from start has no outgoing route (and is not routed
//     through a parallel branch),
//   - the End marker is unreachable from start.
//
// Compilation is a one-time pass; the Builder may be discarded afterwards,
// and later Builder mutation never affects a compiled Graph.
func (b *Builder) Compile() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.start == "" {
		return nil, &GraphError{Message: "no start step designated", Code: "NO_START"}
	}
	if _, ok := b.steps[b.start]; !ok {
		return nil, &GraphError{Message: "start step not registered: " + b.start, Code: "UNKNOWN_STEP"}
	}

	check := func(context, name string) error {
		if name == End {
			return nil
		}
		if _, ok := b.steps[name]; !ok {
			return &GraphError{
				Message: fmt.Sprintf("%s references unregistered step %q", context, name),
				Code:    "UNKNOWN_STEP",
			}
		}
		return nil
	}

	branchSet := make(map[string]bool)
	for from, to := range b.edges {
		if err := check("edge from "+from, to); err != nil {
			return nil, err
		}
		if err := check("edge", from); err != nil {
			return nil, err
		}
	}
	for from, c := range b.conds {
		if err := check("conditional edge", from); err != nil {
			return nil, err
		}
		for label, to := range c.targets {
			if err := check(fmt.Sprintf("conditional edge from %s label %q", from, label), to); err != nil {
				return nil, err
			}
		}
	}
	for from, p := range b.parallels {
		if err := check("parallel fan-out", from); err != nil {
			return nil, err
		}
		if err := check("parallel join after "+from, p.join); err != nil {
			return nil, err
		}
		for _, branch := range p.branches {
			if branch == End {
				return nil, &GraphError{
					Message: "parallel branch cannot be the terminal marker: " + from,
					Code:    "INVALID_EDGE",
				}
			}
			if err := check("parallel branch after "+from, branch); err != nil {
				return nil, err
			}
			branchSet[branch] = true
		}
	}

	// Reachability sweep from start. Conditional labels are all assumed
	// takable since routers are opaque.
	reachedEnd := false
	visited := make(map[string]bool)
	frontier := []string{b.start}
	for len(frontier) > 0 {
		name := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if name == End {
			reachedEnd = true
			continue
		}
		if visited[name] {
			continue
		}
		visited[name] = true

		switch {
		case b.edges[name] != "":
			frontier = append(frontier, b.edges[name])
		case len(b.conds[name].targets) > 0:
			for _, to := range b.conds[name].targets {
				frontier = append(frontier, to)
			}
		case len(b.parallels[name].branches) > 0:
			p := b.parallels[name]
			frontier = append(frontier, p.branches...)
			frontier = append(frontier, p.join)
		case branchSet[name]:
			// Parallel branches rejoin implicitly; no route required.
		default:
			return nil, &GraphError{
				Message: "step has no outgoing route: " + name,
				Code:    "DANGLING_STEP",
			}
		}
	}
	if !reachedEnd {
		return nil, &GraphError{
			Message: "terminal marker unreachable from start step " + b.start,
			Code:    "UNREACHABLE_END",
		}
	}

	g := &Graph{
		steps:     make(map[string]Step, len(b.steps)),
		edges:     make(map[string]string, len(b.edges)),
		conds:     make(map[string]conditional, len(b.conds)),
		parallels: make(map[string]parallel, len(b.parallels)),
		start:     b.start,
	}
	for k, v := range b.steps {
		g.steps[k] = v
	}
	for k, v := range b.edges {
		g.edges[k] = v
	}
	for k, v := range b.conds {
		g.conds[k] = v
	}
	for k, v := range b.parallels {
		g.parallels[k] = v
	}
	return g, nil
}

// Graph is a compiled, immutable workflow definition. It is built once per
// process and shared read-only across every session executing concurrently.
type Graph struct {
	steps     map[string]Step
	edges     map[string]string
	conds     map[string]conditional
	parallels map[string]parallel
	start     string
}

// Start returns the designated entry step name.
func (g *Graph) Start() string {
	return g.start
}

// step looks up a step implementation by name.
func (g *Graph) step(name string) (Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}
