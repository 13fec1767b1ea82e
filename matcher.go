package ecs

// Matcher is a cached all/any/none component filter over a Storage's
// archetypes (spec.md §4.4), plus the archetype-result cache spec.md §4.5
// calls for so repeated per-frame Build calls don't rescan every
// archetype unless the storage's archetype set actually changed.
type Matcher interface {
	// All requires every listed component to be present.
	All(components ...Component) Matcher
	// Any requires at least one listed component to be present.
	Any(components ...Component) Matcher
	// None excludes archetypes containing any listed component.
	None(components ...Component) Matcher

	// AlsoRequires adds a post-filter evaluated per matched entity id,
	// independent of the archetype mask — the hook an SoA-backed
	// component uses to join into an otherwise table-backed query
	// (spec.md §4.2 Open Question; see DESIGN.md).
	AlsoRequires(check func(entityID uint32) bool) Matcher

	// Build compiles the accumulated filter into a Cursor over storage.
	// The matched-archetype set is cached against storage's
	// ArchetypeVersion and only recomputed when that version changes.
	Build(storage Storage) *Cursor

	// Snapshot makes the next Build call rescan archetypes instead of
	// trusting the cache, and freeze the matched entity ids it finds into
	// the returned Cursor: a system that adds/removes components or
	// entities while iterating a snapshot Cursor keeps iterating the set
	// it started with (spec.md §4.5 Contract). A live Cursor instead holds
	// the storage's cursor lock for its pass, so direct structural calls
	// made during it fail with LockedStorageError and Enqueue* calls are
	// deferred until the pass ends.
	Snapshot() Matcher
}

type matcher struct {
	allComps  []Component
	anyComps  []Component
	noneComps []Component
	checks    []func(uint32) bool

	node QueryNode

	cachedStorage    Storage
	cachedVersion    int
	cacheValid       bool
	cachedArchetypes []ArchetypeImpl

	snapshotRequested bool
}

func newMatcher() Matcher {
	return &matcher{}
}

func (m *matcher) All(components ...Component) Matcher {
	m.allComps = append(m.allComps, components...)
	m.node = nil
	return m
}

func (m *matcher) Any(components ...Component) Matcher {
	m.anyComps = append(m.anyComps, components...)
	m.node = nil
	return m
}

func (m *matcher) None(components ...Component) Matcher {
	m.noneComps = append(m.noneComps, components...)
	m.node = nil
	return m
}

func (m *matcher) AlsoRequires(check func(entityID uint32) bool) Matcher {
	m.checks = append(m.checks, check)
	return m
}

func (m *matcher) Snapshot() Matcher {
	m.cacheValid = false
	m.snapshotRequested = true
	return m
}

// buildNode composes the all/any/none requirements into a single
// QueryNode: All is a leaf AND, Any is a composite OR, None is a
// composite NOT, all three joined by a top-level AND when more than one
// is present.
func (m *matcher) buildNode() QueryNode {
	var nodes []QueryNode
	if len(m.allComps) > 0 {
		nodes = append(nodes, newLeafNode(m.allComps))
	}
	if len(m.anyComps) > 0 {
		nodes = append(nodes, newCompositeNode(OpOr, m.anyComps))
	}
	if len(m.noneComps) > 0 {
		nodes = append(nodes, newCompositeNode(OpNot, m.noneComps))
	}
	switch len(nodes) {
	case 0:
		return newLeafNode(nil)
	case 1:
		return nodes[0]
	default:
		and := newCompositeNode(OpAnd, nil)
		and.children = nodes
		return and
	}
}

func (m *matcher) Build(storage Storage) *Cursor {
	if m.node == nil {
		m.node = m.buildNode()
	}
	if !m.cacheValid || m.cachedStorage != storage || m.cachedVersion != storage.ArchetypeVersion() {
		m.cachedArchetypes = scanArchetypes(m.node, storage)
		m.cachedStorage = storage
		m.cachedVersion = storage.ArchetypeVersion()
		m.cacheValid = true
	}

	if m.snapshotRequested {
		m.snapshotRequested = false
		ids := snapshotEntityIDs(m.cachedArchetypes, m.checks)
		return newSnapshotCursor(storage, ids)
	}

	cursor := newCursor(m.node, storage).withPrecomputedArchetypes(m.cachedArchetypes)
	if len(m.checks) == 0 {
		return cursor
	}
	return cursor.withPostFilter(m.checks)
}

// snapshotEntityIDs walks every matched archetype once, applying checks
// at scan time, producing the frozen id set a snapshot Cursor iterates.
func snapshotEntityIDs(archetypes []ArchetypeImpl, checks []func(uint32) bool) []uint32 {
	ids := make([]uint32, 0)
	for _, arch := range archetypes {
		length := arch.table.Length()
		for i := 0; i < length; i++ {
			entry, err := arch.table.Entry(i)
			if err != nil {
				continue
			}
			id := uint32(entry.ID())
			ok := true
			for _, check := range checks {
				if !check(id) {
					ok = false
					break
				}
			}
			if ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// scanArchetypes evaluates node against every archetype in storage once,
// producing the matched set Matcher.Build caches per ArchetypeVersion.
func scanArchetypes(node QueryNode, storage Storage) []ArchetypeImpl {
	matched := make([]ArchetypeImpl, 0)
	for _, arch := range storage.Archetypes() {
		if node.Evaluate(arch, storage) {
			matched = append(matched, arch)
		}
	}
	return matched
}
