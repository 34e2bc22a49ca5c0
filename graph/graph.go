package graph

// Graph is the mutable builder for a workflow's node/edge topology. Build it
// with Add/Connect/AddRouter/StartAt, then Compile it once into an immutable
// Compiled graph the Engine executes. Compile rejects any cycle among the
// static edges added with Connect. A Router's targets are only known at run
// time, so a router can route back to an earlier node; WithMaxSteps bounds
// such a loop.
type Graph struct {
	schema  SlotSchema
	nodes   map[string]Node
	policy  map[string]NodePolicy
	side    map[string]SideEffectPolicy
	edges   map[string][]Edge
	routers map[string]Router
	start   string
}

// NewGraph returns an empty builder using schema to validate every node's
// state deltas. Pass graph.DefaultSlotSchema() for the stock slot set, or a
// copy of it extended with component-defined slots.
func NewGraph(schema SlotSchema) *Graph {
	return &Graph{
		schema:  schema,
		nodes:   map[string]Node{},
		policy:  map[string]NodePolicy{},
		side:    map[string]SideEffectPolicy{},
		edges:   map[string][]Edge{},
		routers: map[string]Router{},
	}
}

// Add registers a node under id. Returns ErrDuplicateNode if id is already
// registered.
func (g *Graph) Add(id string, node Node) error {
	if _, exists := g.nodes[id]; exists {
		return ErrDuplicateNode
	}
	g.nodes[id] = node
	return nil
}

// AddWithPolicy registers a node along with its NodePolicy and
// SideEffectPolicy in one call.
func (g *Graph) AddWithPolicy(id string, node Node, policy NodePolicy, side SideEffectPolicy) error {
	if err := g.Add(id, node); err != nil {
		return err
	}
	g.policy[id] = policy
	g.side[id] = side
	return nil
}

// Connect adds an edge from -> to. A nil predicate makes it unconditional;
// a non-nil predicate is only followed when it returns true against the
// state committed after "from" ran. Both endpoints must already be
// registered (to may be graph.END).
func (g *Graph) Connect(from, to string, when Predicate) error {
	if _, ok := g.nodes[from]; !ok {
		return ErrNoSuchNode
	}
	if to != END {
		if _, ok := g.nodes[to]; !ok {
			return ErrNoSuchNode
		}
	}
	g.edges[from] = append(g.edges[from], Edge{From: from, To: to, When: when})
	return nil
}

// AddRouter attaches a named multi-way selector to node id: after id runs,
// the engine calls router against committed state to pick the next node (or
// graph.END) instead of evaluating id's Edges. At most one router per node;
// a router takes precedence over any edges registered for the same node.
func (g *Graph) AddRouter(id string, router Router) error {
	if _, ok := g.nodes[id]; !ok {
		return ErrNoSuchNode
	}
	g.routers[id] = router
	return nil
}

// StartAt designates the entry node for Invoke.
func (g *Graph) StartAt(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return ErrNoSuchNode
	}
	g.start = id
	return nil
}

// Compiled is the immutable, validated form of a Graph, safe for concurrent
// use by multiple Engine instances and multiple concurrent runs.
type Compiled struct {
	schema  SlotSchema
	nodes   map[string]Node
	policy  map[string]NodePolicy
	side    map[string]SideEffectPolicy
	edges   map[string][]Edge
	routers map[string]Router
	start   string
}

// Compile validates the graph (a start node is set, the static edges form no
// cycle) and freezes it for execution. Edge targets were already checked by
// Connect; a router's choice is checked only at run time, where an unknown
// target yields ErrNoRoute.
func (g *Graph) Compile() (*Compiled, error) {
	if g.start == "" {
		return nil, ErrNotCompiled
	}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	return &Compiled{
		schema:  g.schema,
		nodes:   g.nodes,
		policy:  g.policy,
		side:    g.side,
		edges:   g.edges,
		routers: g.routers,
		start:   g.start,
	}, nil
}

// validateAcyclic walks every static successor edge (ignoring predicates,
// since a conditional edge that's never taken at runtime still can't be
// allowed to close a cycle) and rejects the graph if any node is reachable
// from itself.
func (g *Graph) validateAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		if id == END {
			return nil
		}
		switch state[id] {
		case visiting:
			return ErrCyclicGraph
		case done:
			return nil
		}
		state[id] = visiting
		if router, ok := g.routers[id]; ok {
			_ = router // routers are opaque functions; their targets aren't known until runtime
		}
		for _, e := range g.edges[id] {
			if err := visit(e.To); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for id := range g.nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// successor resolves the single next node (or END) after id ran, given
// committed state. A registered Router takes precedence over Edges.
func (c *Compiled) successor(id string, state State) (string, error) {
	if router, ok := c.routers[id]; ok {
		next := router(state)
		if next != END {
			if _, ok := c.nodes[next]; !ok {
				return "", ErrNoRoute
			}
		}
		return next, nil
	}
	for _, e := range c.edges[id] {
		if e.When == nil || e.When(state) {
			return e.To, nil
		}
	}
	return "", ErrNoRoute
}
