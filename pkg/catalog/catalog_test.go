package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/perms"
)

func TestRegistry(t *testing.T) {
	reg, err := Registry()
	require.NoError(t, err)
	assert.True(t, reg.Frozen())
	assert.Equal(t, []string{"brand", "product", "tag"}, reg.Names())
}

func TestProductTextFeature(t *testing.T) {
	reg, err := Registry()
	require.NoError(t, err)
	product, _ := reg.Get("product")
	require.True(t, product.Searchable())

	obj := model.NewObject(product)
	obj.Set("barcode", "0123456789")
	obj.Set("description", "oat milk")
	assert.Equal(t, "0123456789 oat milk", product.TextFeature(obj))

	obj.Set("description", nil)
	assert.Equal(t, "0123456789", product.TextFeature(obj))
}

func TestAnyoneReadPolicy(t *testing.T) {
	reg, err := Registry()
	require.NoError(t, err)
	brand, _ := reg.Get("brand")

	grants := brand.Policy(context.Background(), model.NewObject(brand))
	require.Len(t, grants, 1)
	assert.Equal(t, perms.AnyoneGroupName, grants[0].Group)
	assert.Equal(t, "r", grants[0].Actions)
	assert.Equal(t, "name", grants[0].Field)
}
