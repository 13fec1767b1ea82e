package ecs

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// SoAComponentType is the handle returned by SoAComponentBuilder.Build. It
// identifies a registered Structure-of-Arrays component type and builds
// the packed-column storage for it.
//
// SoA components are not github.com/TheBitDrifter/table.ElementType values
// and are never slotted into an Archetype: they are tracked by entity id
// through a sparse set rather than grouped by mask into a shared table.
// Systems that need to combine an SoA requirement with an AoS query use
// Matcher.AlsoRequires to post-filter a cursor by storage membership
// (spec.md §4.2 Open Question — see DESIGN.md for the tradeoff).
type SoAComponentType[T any] struct {
	typeID uint32
	name   string
	fields []FieldDescriptor
}

// TypeID returns the dense ComponentType Registry id for this type.
func (c *SoAComponentType[T]) TypeID() uint32 { return c.typeID }

// Name returns the registered type name.
func (c *SoAComponentType[T]) Name() string { return c.name }

// Fields returns the field schema this type was built with.
func (c *SoAComponentType[T]) Fields() []FieldDescriptor { return c.fields }

// NewStorage creates a fresh packed-column SoAStorage for this type,
// scoped to whichever Scene/system owns it.
func (c *SoAComponentType[T]) NewStorage() *SoAStorage[T] {
	return newSoAStorage(c)
}

// SoAStorage is a sparse-set, Structure-of-Arrays store for component T:
// scalar fields live in parallel packed columns (one contiguous slice per
// field), while complex/serialize/deep-copy fields live in an
// entity-id-keyed side map. Grounded on the sparse-set dense/sparse index
// pattern shared by the pack's other component stores, adapted to use a
// free-slot stack instead of swap-and-pop so Remove never relocates a
// surviving entity's data (spec.md §3/§4.2 fragmentation-on-removal
// contract): a removed entity's slot is simply marked free and reused by
// a later Add, leaving a hole until Compact repacks the columns.
type SoAStorage[T any] struct {
	mu       sync.RWMutex
	compType *SoAComponentType[T]

	slotOf    map[uint32]int // entity id -> slot
	slotID    []uint32       // slot -> entity id (meaningful only where occupied[slot])
	occupied  []bool         // slot -> whether it currently holds a live entity
	freeSlots []int          // stack of slots freed by Remove, reused by Add
	live      int            // count of occupied slots

	values []T // slot -> cached whole-value view, kept in sync by Add/Remove/Compact

	columns map[string]any            // field name -> packed slice (scalar kinds), indexed by slot
	strings map[string][]string       // field name -> packed string column, indexed by slot
	complex map[string]map[uint32]any // field name -> entity id -> value (complex kinds)
}

func newSoAStorage[T any](ct *SoAComponentType[T]) *SoAStorage[T] {
	s := &SoAStorage[T]{
		compType: ct,
		slotOf:   make(map[uint32]int),
		columns:  make(map[string]any),
		strings:  make(map[string][]string),
		complex:  make(map[string]map[uint32]any),
	}
	for _, f := range ct.fields {
		switch f.Kind {
		case FieldF32:
			s.columns[f.Name] = []float32{}
		case FieldF64, FieldHighPrecision:
			s.columns[f.Name] = []float64{}
		case FieldI32:
			s.columns[f.Name] = []int32{}
		case FieldBool:
			s.columns[f.Name] = []bool{}
		case FieldString:
			s.strings[f.Name] = []string{}
		default:
			s.complex[f.Name] = make(map[uint32]any)
		}
	}
	return s
}

// TypeID returns the dense ComponentType Registry id this storage serves.
func (s *SoAStorage[T]) TypeID() uint32 { return s.compType.typeID }

// Add inserts value under entityID, reusing a freed slot if one is
// available. Re-adding an already-present entity is an error; call
// Remove first to replace.
func (s *SoAStorage[T]) Add(entityID uint32, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slotOf[entityID]; ok {
		return fmt.Errorf("entity %d already present in soa storage for %s", entityID, s.compType.name)
	}

	var slot int
	if n := len(s.freeSlots); n > 0 {
		slot = s.freeSlots[n-1]
		s.freeSlots = s.freeSlots[:n-1]
		s.slotID[slot] = entityID
		s.occupied[slot] = true
		s.values[slot] = value
	} else {
		slot = len(s.slotID)
		s.slotID = append(s.slotID, entityID)
		s.occupied = append(s.occupied, true)
		s.values = append(s.values, value)
	}
	s.slotOf[entityID] = slot
	s.live++

	rv := reflect.ValueOf(value)
	for _, f := range s.compType.fields {
		fv := rv.FieldByName(f.Name)
		switch f.Kind {
		case FieldF32:
			col := s.columns[f.Name].([]float32)
			col = setOrAppend(col, slot, float32(fv.Float()))
			s.columns[f.Name] = col
		case FieldF64, FieldHighPrecision:
			col := s.columns[f.Name].([]float64)
			col = setOrAppend(col, slot, fv.Float())
			s.columns[f.Name] = col
		case FieldI32:
			col := s.columns[f.Name].([]int32)
			col = setOrAppend(col, slot, int32(fv.Int()))
			s.columns[f.Name] = col
		case FieldBool:
			col := s.columns[f.Name].([]bool)
			col = setOrAppend(col, slot, fv.Bool())
			s.columns[f.Name] = col
		case FieldString:
			col := s.strings[f.Name]
			col = setOrAppend(col, slot, fv.String())
			s.strings[f.Name] = col
		default:
			s.complex[f.Name][entityID] = fv.Interface()
		}
	}
	return nil
}

// setOrAppend writes v at slot, appending if slot is the next free index
// (a brand-new slot) or overwriting in place if slot was reused from the
// free-slot stack, where the column is already sized for it.
func setOrAppend[V any](col []V, slot int, v V) []V {
	if slot == len(col) {
		return append(col, v)
	}
	col[slot] = v
	return col
}

// Has reports whether entityID currently has a value in this storage.
func (s *SoAStorage[T]) Has(entityID uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.slotOf[entityID]
	return ok
}

// Get returns entityID's current value and whether it was present.
func (s *SoAStorage[T]) Get(entityID uint32) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slotOf[entityID]
	if !ok {
		var zero T
		return zero, false
	}
	return s.values[slot], true
}

// Remove marks entityID's slot free without relocating any other
// entity's data; the slot is reused by a later Add and fully reclaimed
// by Compact. Reports whether entityID was present.
func (s *SoAStorage[T]) Remove(entityID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slotOf[entityID]
	if !ok {
		return false
	}
	s.occupied[slot] = false
	delete(s.slotOf, entityID)
	s.freeSlots = append(s.freeSlots, slot)
	s.live--

	var zero T
	s.values[slot] = zero

	for _, f := range s.compType.fields {
		if _, ok := s.complex[f.Name]; ok {
			delete(s.complex[f.Name], entityID)
		}
	}
	return true
}

// Size returns the number of entities currently stored.
func (s *SoAStorage[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Clear empties the storage back to its initial state.
func (s *SoAStorage[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotOf = make(map[uint32]int)
	s.slotID = nil
	s.occupied = nil
	s.freeSlots = nil
	s.values = nil
	s.live = 0
	for name, col := range s.columns {
		switch col.(type) {
		case []float32:
			s.columns[name] = []float32{}
		case []float64:
			s.columns[name] = []float64{}
		case []int32:
			s.columns[name] = []int32{}
		case []bool:
			s.columns[name] = []bool{}
		}
	}
	for name := range s.strings {
		s.strings[name] = []string{}
	}
	for name := range s.complex {
		s.complex[name] = make(map[uint32]any)
	}
}

// Iterate walks every live (entityID, value) pair in slot order, skipping
// holes left by Remove, stopping early if fn returns false.
func (s *SoAStorage[T]) Iterate(fn func(entityID uint32, value T) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for slot, occ := range s.occupied {
		if !occ {
			continue
		}
		if !fn(s.slotID[slot], s.values[slot]) {
			return
		}
	}
}

// FieldColumn returns the raw packed slice backing name, for direct
// vectorized field access, plus whether that field exists as a packed
// column (false for complex/deep-copy fields, which have no column).
// The column is indexed by slot, not entity id, and may contain stale
// values at slots freed since the last Compact.
func (s *SoAStorage[T]) FieldColumn(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if col, ok := s.columns[name]; ok {
		return col, true
	}
	if col, ok := s.strings[name]; ok {
		return col, true
	}
	return nil, false
}

// PerformVectorizedF32 applies fn in place to every slot of the named f32
// column, including holes. Bypasses the cached whole-value view; call
// Compact afterward if Get/Iterate must observe the change.
func (s *SoAStorage[T]) PerformVectorizedF32(name string, fn func(float32) float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.columns[name].([]float32)
	if !ok {
		return fmt.Errorf("no f32 column %q in soa storage for %s", name, s.compType.name)
	}
	for i := range col {
		col[i] = fn(col[i])
	}
	return nil
}

// PerformVectorizedF64 is PerformVectorizedF32 for f64/HighPrecision columns.
func (s *SoAStorage[T]) PerformVectorizedF64(name string, fn func(float64) float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.columns[name].([]float64)
	if !ok {
		return fmt.Errorf("no f64 column %q in soa storage for %s", name, s.compType.name)
	}
	for i := range col {
		col[i] = fn(col[i])
	}
	return nil
}

// Compact defragments the storage: every live entity is repacked into a
// single contiguous run per column, in ascending entity-id order, and
// every slot freed by Remove is reclaimed. It also rebuilds the cached
// whole-value view from the packed columns and side map, so a
// PerformVectorized* mutation becomes visible to Get/Iterate.
func (s *SoAStorage[T]) Compact() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, 0, s.live)
	for slot, occ := range s.occupied {
		if occ {
			ids = append(ids, s.slotID[slot])
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	newSlotID := make([]uint32, len(ids))
	newOccupied := make([]bool, len(ids))
	newValues := make([]T, len(ids))
	newSlotOf := make(map[uint32]int, len(ids))

	newColumns := make(map[string]any, len(s.columns))
	for name, col := range s.columns {
		switch col.(type) {
		case []float32:
			newColumns[name] = make([]float32, len(ids))
		case []float64:
			newColumns[name] = make([]float64, len(ids))
		case []int32:
			newColumns[name] = make([]int32, len(ids))
		case []bool:
			newColumns[name] = make([]bool, len(ids))
		}
	}
	newStrings := make(map[string][]string, len(s.strings))
	for name := range s.strings {
		newStrings[name] = make([]string, len(ids))
	}

	var sample T
	rt := reflect.TypeOf(sample)

	for newSlot, id := range ids {
		oldSlot := s.slotOf[id]
		rv := reflect.New(rt).Elem()

		for _, f := range s.compType.fields {
			fv := rv.FieldByName(f.Name)
			if !fv.IsValid() {
				continue
			}
			switch f.Kind {
			case FieldF32:
				val := s.columns[f.Name].([]float32)[oldSlot]
				newColumns[f.Name].([]float32)[newSlot] = val
				fv.SetFloat(float64(val))
			case FieldF64, FieldHighPrecision:
				val := s.columns[f.Name].([]float64)[oldSlot]
				newColumns[f.Name].([]float64)[newSlot] = val
				fv.SetFloat(val)
			case FieldI32:
				val := s.columns[f.Name].([]int32)[oldSlot]
				newColumns[f.Name].([]int32)[newSlot] = val
				fv.SetInt(int64(val))
			case FieldBool:
				val := s.columns[f.Name].([]bool)[oldSlot]
				newColumns[f.Name].([]bool)[newSlot] = val
				fv.SetBool(val)
			case FieldString:
				val := s.strings[f.Name][oldSlot]
				newStrings[f.Name][newSlot] = val
				fv.SetString(val)
			default:
				if v, ok := s.complex[f.Name][id]; ok {
					fv.Set(reflect.ValueOf(v))
				}
			}
		}

		newSlotID[newSlot] = id
		newOccupied[newSlot] = true
		newValues[newSlot] = rv.Interface().(T)
		newSlotOf[id] = newSlot
	}

	s.slotOf = newSlotOf
	s.slotID = newSlotID
	s.occupied = newOccupied
	s.values = newValues
	s.columns = newColumns
	s.strings = newStrings
	s.freeSlots = nil
}
