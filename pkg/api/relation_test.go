package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/fieldgate/pkg/perms"
)

func TestRelation_NotARelation(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	pk := h.insertProduct(t, "p", nil)

	rec := h.do(t, user, "GET", fmt.Sprintf("/product/%d/barcode", pk), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["barcode"], "not a relation")
}

func TestRelationToOne_Get(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	brand := h.insertBrand(t, "acme")
	pk := h.insertProduct(t, "p", &brand)
	path := fmt.Sprintf("/product/%d/brand", pk)

	// gate: read on the parent field first
	rec := h.do(t, user, "GET", path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.grant(t, user, perms.OnObjects("product", pk), "r", "")
	rec = h.do(t, user, "GET", path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "brand itself still hidden")

	h.grant(t, user, perms.OnObjects("brand", brand), "r", "products")
	rec = h.do(t, user, "GET", path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", decodeBody(t, rec)["name"])
}

func TestRelationToOne_GetNull(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	pk := h.insertProduct(t, "orphan", nil)
	h.grant(t, user, perms.OnObjects("product", pk), "r", "")

	rec := h.do(t, user, "GET", fmt.Sprintf("/product/%d/brand", pk), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestRelationToOne_Patch(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	oldBrand := h.insertBrand(t, "old")
	newBrand := h.insertBrand(t, "new")
	pk := h.insertProduct(t, "p", &oldBrand)
	path := fmt.Sprintf("/product/%d/brand", pk)

	// saves rebuild object grants from the policy, and the detach below
	// runs after one, so grant at model scope
	h.grant(t, user, perms.OnModel("product"), "rw", "")
	h.grant(t, user, perms.OnModel("brand"), "rw", "products")

	rec := h.do(t, user, "PATCH", path, newBrand)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new", decodeBody(t, rec)["name"])

	// null detaches
	rec = h.do(t, user, "PATCH", path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	d, _ := h.Registry.Get("product")
	obj, err := h.Store.Get(context.Background(), d, pk)
	require.NoError(t, err)
	assert.Nil(t, obj.FK("brand"))
}

func TestRelationToOne_PatchNonNullable(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	product := h.insertProduct(t, "p", nil)
	sku := h.insertSKU(t, "sku-1", product)
	h.grant(t, user, perms.OnObjects("sku", sku), "rw", "")

	rec := h.do(t, user, "PATCH", fmt.Sprintf("/sku/%d/product", sku), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["product"], "not nullable")
}

func TestRelationToOne_MethodNotAllowed(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	brand := h.insertBrand(t, "acme")
	pk := h.insertProduct(t, "p", &brand)
	h.grant(t, user, perms.OnObjects("product", pk), "rw", "")

	rec := h.do(t, user, "POST", fmt.Sprintf("/product/%d/brand", pk), []int64{1})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRelationToMany_GetIsPermissionFiltered(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	brand := h.insertBrand(t, "acme")
	p1 := h.insertProduct(t, "a", &brand)
	p2 := h.insertProduct(t, "b", &brand)
	h.insertProduct(t, "c", nil) // different parent

	h.grant(t, user, perms.OnObjects("brand", brand), "r", "")
	h.grant(t, user, perms.OnObjects("product", p1, p2), "r", "")

	rec := h.do(t, user, "GET", fmt.Sprintf("/brand/%d/products", brand), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.ElementsMatch(t, []int64{p1, p2}, objectIDs(t, body))
}

func TestRelationToMany_PostClaimsChildren(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	brand := h.insertBrand(t, "acme")
	p1 := h.insertProduct(t, "a", nil)
	p2 := h.insertProduct(t, "b", nil)
	path := fmt.Sprintf("/brand/%d/products", brand)

	h.grant(t, user, perms.OnObjects("brand", brand), "rw", "")

	// unknown id: 404
	rec := h.do(t, user, "POST", path, []int64{424242})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// no visibility on the children yet
	rec = h.do(t, user, "POST", path, []int64{p1, p2})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// read reveals the denial, write resolves it
	h.grant(t, user, perms.OnObjects("product", p1, p2), "r", "brand")
	rec = h.do(t, user, "POST", path, []int64{p1, p2})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	h.grant(t, user, perms.OnObjects("product", p1, p2), "rw", "brand")
	rec = h.do(t, user, "POST", path, []int64{p1, p2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []int64{p1, p2}, objectIDs(t, decodeBody(t, rec)))
}

func TestRelationToMany_PutReplacesBySymmetricDifference(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	brand := h.insertBrand(t, "acme")
	keep := h.insertProduct(t, "keep", &brand)
	drop := h.insertProduct(t, "drop", &brand)
	add := h.insertProduct(t, "add", nil)
	path := fmt.Sprintf("/brand/%d/products", brand)

	h.grant(t, user, perms.OnObjects("brand", brand), "rw", "")
	// write only on the members that actually change; "keep" needs none
	h.grant(t, user, perms.OnObjects("product", drop, add), "w", "brand")

	rec := h.do(t, user, "PUT", path, []int64{keep, add})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []int64{keep, add}, objectIDs(t, decodeBody(t, rec)))

	d, _ := h.Registry.Get("product")
	obj, err := h.Store.Get(context.Background(), d, drop)
	require.NoError(t, err)
	assert.Nil(t, obj.FK("brand"), "dropped child is released, not deleted")
}

func TestRelationToMany_DeleteIgnoresNonMembers(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	brand := h.insertBrand(t, "acme")
	member := h.insertProduct(t, "member", &brand)
	stranger := h.insertProduct(t, "stranger", nil)
	path := fmt.Sprintf("/brand/%d/products", brand)

	h.grant(t, user, perms.OnObjects("brand", brand), "rw", "")
	h.grant(t, user, perms.OnObjects("product", member), "w", "brand")

	// the stranger is not a member: no permission needed, silently skipped
	rec := h.do(t, user, "DELETE", path, []int64{member, stranger})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total"])
}

func TestRelationToMany_DeleteNonNullableRejected(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	product := h.insertProduct(t, "p", nil)
	sku := h.insertSKU(t, "sku-1", product)
	path := fmt.Sprintf("/product/%d/skus", product)

	h.grant(t, user, perms.OnObjects("product", product), "rw", "")
	h.grant(t, user, perms.OnObjects("sku", sku), "w", "product")

	rec := h.do(t, user, "DELETE", path, []int64{sku})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["skus"], "does not allow null")
}

func TestRelationToMany_ManyToManyLinks(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	product := h.insertProduct(t, "p", nil)
	t1 := h.insertTag(t, "new")
	t2 := h.insertTag(t, "sale")
	path := fmt.Sprintf("/product/%d/tags", product)

	h.grant(t, user, perms.OnObjects("product", product), "rw", "")
	h.grant(t, user, perms.OnModel("tag"), "rw", "")

	rec := h.do(t, user, "POST", path, []int64{t1, t2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []int64{t1, t2}, objectIDs(t, decodeBody(t, rec)))

	// re-adding an existing member is a no-op
	rec = h.do(t, user, "POST", path, []int64{t1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["total"])

	rec = h.do(t, user, "DELETE", path, []int64{t1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []int64{t2}, objectIDs(t, decodeBody(t, rec)))

	// the reverse side sees the same membership
	h.grant(t, user, perms.OnObjects("tag", t2), "r", "")
	rec = h.do(t, user, "GET", fmt.Sprintf("/tag/%d/products", t2), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []int64{product}, objectIDs(t, decodeBody(t, rec)))
}

func TestRelationToMany_EmptyPostIsNoop(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	brand := h.insertBrand(t, "acme")
	h.grant(t, user, perms.OnObjects("brand", brand), "rw", "")

	rec := h.do(t, user, "POST", fmt.Sprintf("/brand/%d/products", brand), []int64{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total"])
}

func TestRelationToMany_AckWithoutRead(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	brand := h.insertBrand(t, "acme")
	p := h.insertProduct(t, "a", nil)
	path := fmt.Sprintf("/brand/%d/products", brand)

	// write on the parent field but no read
	h.grant(t, user, perms.OnObjects("brand", brand), "w", "")
	h.grant(t, user, perms.OnObjects("product", p), "w", "brand")

	rec := h.do(t, user, "POST", path, []int64{p})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": true}, decodeBody(t, rec))
}
