package ecs

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeOf[T any]() reflect.Type {
	var zero T
	return reflect.TypeOf(zero)
}

type velocityField struct {
	DX, DY float32
}

func TestSoAComponentBuilderRegistersOnce(t *testing.T) {
	comp, err := NewSoAComponent[velocityField]().Float32("DX").Float32("DY").Build()
	require.NoError(t, err)

	again, err := NewSoAComponent[velocityField]().Float32("DX").Float32("DY").Build()
	require.NoError(t, err)

	assert.Equal(t, comp.TypeID(), again.TypeID(), "re-registering the same type should return the same id")

	info, ok := DescribeComponentType(comp.TypeID())
	require.True(t, ok)
	assert.Equal(t, StorageSoA, info.Storage)
	assert.Len(t, info.Fields, 2)
}

type positionField struct {
	X, Y float32
}

func TestRegisterComponentTypeDuplicateName(t *testing.T) {
	type distinctA struct{ V int32 }
	type distinctB struct{ V int32 }

	idA, err := registerComponentType(typeOf[distinctA](), "duplicate-name-test", StorageAoS, nil)
	require.NoError(t, err)

	_, err = registerComponentType(typeOf[distinctB](), "duplicate-name-test", StorageAoS, nil)
	var dupErr DuplicateTypeNameError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "duplicate-name-test", dupErr.TypeName)

	// Re-registering distinctA under the same name is still idempotent.
	again, err := registerComponentType(typeOf[distinctA](), "duplicate-name-test", StorageAoS, nil)
	require.NoError(t, err)
	assert.Equal(t, idA, again)
}
