package ecs

import (
	"reflect"
	"sync"
)

// ComponentStorageKind selects how a component type's instances are
// stored: the default dense Array-of-Structs strategy backed by
// github.com/TheBitDrifter/table, or the opt-in packed-column
// Structure-of-Arrays strategy (spec.md §3, §4.2).
type ComponentStorageKind uint8

const (
	StorageAoS ComponentStorageKind = iota
	StorageSoA
)

// FieldKind enumerates the scalar/complex field kinds an SoA component can
// tag its fields with (spec.md §3, §9): numeric precision, string/bool
// markers, serialization behaviour, and deep-copy/complex fallbacks.
type FieldKind uint8

const (
	FieldF32 FieldKind = iota
	FieldF64
	FieldI32
	FieldBool
	FieldString
	FieldHighPrecision
	FieldSerializeMap
	FieldSerializeSet
	FieldSerializeArray
	FieldDeepCopy
	FieldComplex
)

// FieldDescriptor names a single SoA field and its storage kind.
type FieldDescriptor struct {
	Name string
	Kind FieldKind
}

// ComponentTypeInfo is the ComponentType Registry's metadata record for a
// single registered component type (spec.md §4.1 "describe").
type ComponentTypeInfo struct {
	TypeName string
	TypeID   uint32
	Storage  ComponentStorageKind
	Fields   []FieldDescriptor
}

// componentTypeRegistry assigns each component class a stable, dense
// numeric id exactly once per process lifetime (spec.md §4.1 invariant).
// It is a process singleton by design (spec.md §9 Design Notes): typeId
// stability must hold across every Scene in the process, even though
// each Scene's Storage/SoA tables are independent.
type componentTypeRegistry struct {
	mu     sync.RWMutex
	nextID uint32
	byName map[string]uint32
	byType map[reflect.Type]uint32
	infos  []ComponentTypeInfo
}

var globalComponentTypes = &componentTypeRegistry{
	byName: make(map[string]uint32),
	byType: make(map[reflect.Type]uint32),
}

// registerComponentType registers t under name with the given storage
// kind and (for SoA types) field schema. Re-registering the same
// reflect.Type is a no-op that returns the existing id. Registering a
// distinct type under a name already claimed by another type fails with
// DuplicateTypeNameError (spec.md §4.1 Contract).
func registerComponentType(t reflect.Type, name string, kind ComponentStorageKind, fields []FieldDescriptor) (uint32, error) {
	r := globalComponentTypes
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byType[t]; ok {
		return id, nil
	}
	if existingID, ok := r.byName[name]; ok {
		if r.infos[existingID].TypeName == name {
			return 0, DuplicateTypeNameError{TypeName: name}
		}
	}

	id := r.nextID
	r.nextID++
	r.byType[t] = id
	r.byName[name] = id
	r.infos = append(r.infos, ComponentTypeInfo{
		TypeName: name,
		TypeID:   id,
		Storage:  kind,
		Fields:   fields,
	})
	return id, nil
}

// DescribeComponentType returns the registered metadata for typeID.
func DescribeComponentType(typeID uint32) (ComponentTypeInfo, bool) {
	r := globalComponentTypes
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(typeID) >= len(r.infos) {
		return ComponentTypeInfo{}, false
	}
	return r.infos[typeID], true
}

// RegisteredComponentTypeCount returns how many distinct component types
// have been registered in this process, for diagnostics.
func RegisteredComponentTypeCount() int {
	r := globalComponentTypes
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.infos)
}

// SoAComponentBuilder builds the field schema for a Structure-of-Arrays
// component type using a fluent builder — spec.md §9 calls a builder API
// "the minimum viable form" for declaring per-field metadata without a
// decorator/annotation system.
type SoAComponentBuilder[T any] struct {
	fields []FieldDescriptor
}

// NewSoAComponent starts building the SoA field schema for T.
func NewSoAComponent[T any]() *SoAComponentBuilder[T] {
	return &SoAComponentBuilder[T]{}
}

func (b *SoAComponentBuilder[T]) add(name string, kind FieldKind) *SoAComponentBuilder[T] {
	b.fields = append(b.fields, FieldDescriptor{Name: name, Kind: kind})
	return b
}

// Float32 tags name as a packed f32 column (the SoA numeric default).
func (b *SoAComponentBuilder[T]) Float32(name string) *SoAComponentBuilder[T] { return b.add(name, FieldF32) }

// Float64 tags name as a packed f64 column (HighPrecision/Float64).
func (b *SoAComponentBuilder[T]) Float64(name string) *SoAComponentBuilder[T] { return b.add(name, FieldF64) }

// Int32 tags name as a packed i32 column.
func (b *SoAComponentBuilder[T]) Int32(name string) *SoAComponentBuilder[T] { return b.add(name, FieldI32) }

// Bool tags name as a packed boolean column.
func (b *SoAComponentBuilder[T]) Bool(name string) *SoAComponentBuilder[T] { return b.add(name, FieldBool) }

// String tags name as a parallel string column.
func (b *SoAComponentBuilder[T]) String(name string) *SoAComponentBuilder[T] { return b.add(name, FieldString) }

// HighPrecision tags name as a high precision numeric, stored like Float64
// in a packed f64 column.
func (b *SoAComponentBuilder[T]) HighPrecision(name string) *SoAComponentBuilder[T] {
	return b.add(name, FieldHighPrecision)
}

// SerializeMap tags name as a map field. SoAStorage keeps the value as-is
// in its per-entity side map; it is not JSON-encoded.
func (b *SoAComponentBuilder[T]) SerializeMap(name string) *SoAComponentBuilder[T] {
	return b.add(name, FieldSerializeMap)
}

// SerializeSet tags name as a set field. SoAStorage keeps the value as-is
// in its per-entity side map; it is not JSON-encoded.
func (b *SoAComponentBuilder[T]) SerializeSet(name string) *SoAComponentBuilder[T] {
	return b.add(name, FieldSerializeSet)
}

// SerializeArray tags name as an array field. SoAStorage keeps the value
// as-is in its per-entity side map; it is not JSON-encoded.
func (b *SoAComponentBuilder[T]) SerializeArray(name string) *SoAComponentBuilder[T] {
	return b.add(name, FieldSerializeArray)
}

// DeepCopy tags name as a complex field, side-stored per entity. The value
// is stored and returned without copying; no deep copy is made on read.
func (b *SoAComponentBuilder[T]) DeepCopy(name string) *SoAComponentBuilder[T] {
	return b.add(name, FieldDeepCopy)
}

// Complex tags name as an untagged non-scalar, side-stored per entity.
func (b *SoAComponentBuilder[T]) Complex(name string) *SoAComponentBuilder[T] {
	return b.add(name, FieldComplex)
}

// Build registers the component type (idempotent) and returns its
// SoAComponentType handle, the entry point into SoA storage.
func (b *SoAComponentBuilder[T]) Build() (*SoAComponentType[T], error) {
	var zero T
	t := reflect.TypeOf(zero)
	name := t.String()
	id, err := registerComponentType(t, name, StorageSoA, b.fields)
	if err != nil {
		return nil, err
	}
	return &SoAComponentType[T]{
		typeID: id,
		name:   name,
		fields: b.fields,
	}, nil
}
