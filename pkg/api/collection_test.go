package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgate/fieldgate/pkg/perms"
)

func objectIDs(t *testing.T, body map[string]interface{}) []int64 {
	t.Helper()
	objects, ok := body["objects"].([]interface{})
	require.True(t, ok, "no objects array in %v", body)
	ids := make([]int64, 0, len(objects))
	for _, o := range objects {
		obj := o.(map[string]interface{})
		ids = append(ids, int64(obj["id"].(float64)))
	}
	return ids
}

func TestList_PermissionFilterIsInnermost(t *testing.T) {
	h := setup(t)
	user := perms.User(7)

	b1 := h.insertBrand(t, "acme")
	b2 := h.insertBrand(t, "globex")
	h.insertBrand(t, "initech")

	h.grant(t, user, perms.OnObjects("brand", b1, b2), "r", "")

	rec := h.do(t, user, "GET", "/brand", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	assert.Equal(t, float64(2), body["total"])
	assert.ElementsMatch(t, []int64{b1, b2}, objectIDs(t, body))
}

func TestList_AnyoneGrantsWidenVisibility(t *testing.T) {
	h := setup(t)
	user := perms.User(7)

	h.insertBrand(t, "acme")
	h.insertBrand(t, "globex")

	// user holds nothing; the anyone model grant makes everything visible
	rec := h.do(t, user, "GET", "/brand", nil)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total"])

	h.grant(t, h.Resolver.Defaults().Anyone, perms.OnModel("brand"), "r", "")

	rec = h.do(t, user, "GET", "/brand", nil)
	assert.Equal(t, float64(2), decodeBody(t, rec)["total"])
}

func TestList_FiltersOrderingPagination(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	h.grant(t, user, perms.OnModel("product"), "r", "")

	for i := 1; i <= 5; i++ {
		h.insertProduct(t, fmt.Sprintf("code-%d", i), nil)
	}

	rec := h.do(t, user, "GET", "/product?_limit=2&_page=2&_order_by=-barcode", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	assert.Equal(t, float64(5), body["total"])
	assert.Equal(t, float64(2), body["page"])
	assert.Equal(t, float64(1), body["previous"])
	assert.Equal(t, float64(3), body["next"])
	objects := body["objects"].([]interface{})
	require.Len(t, objects, 2)
	// descending: code-5 code-4 | code-3 code-2 | code-1
	assert.Equal(t, "code-3", objects[0].(map[string]interface{})["barcode"])
	assert.Equal(t, "code-2", objects[1].(map[string]interface{})["barcode"])

	rec = h.do(t, user, "GET", "/product?barcode=code-4", nil)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total"])

	rec = h.do(t, user, "GET", "/product?id__in[]=1&id__in[]=3", nil)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
}

func TestList_InvalidPage(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	h.grant(t, user, perms.OnModel("product"), "r", "")
	h.insertProduct(t, "only", nil)

	rec := h.do(t, user, "GET", "/product?_page=9", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message": "Invalid page."}`, rec.Body.String())

	// page 1 of an empty result is fine
	rec = h.do(t, user, "GET", "/product?barcode=missing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["total"])
}

func TestList_BadParams(t *testing.T) {
	h := setup(t)
	user := perms.User(7)

	rec := h.do(t, user, "GET", "/product?_limit=99999&_page=zero&bogus=1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "_limit")
	assert.Contains(t, body, "_page")
	assert.Contains(t, body, "bogus")
}

func TestList_UnknownModel(t *testing.T) {
	h := setup(t)

	rec := h.do(t, perms.User(7), "GET", "/gadget", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["model"], "gadget")
	assert.Contains(t, body["model"], "product")
}

func TestList_Fulltext(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	h.grant(t, user, perms.OnModel("product"), "r", "")

	h.insertProduct(t, "red widget", nil)
	h.insertProduct(t, "blue widget", nil)
	h.insertProduct(t, "red gadget", nil)

	rec := h.do(t, user, "GET", "/product?_fulltext=red+widget", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])

	// brands carry no text feature
	rec = h.do(t, user, "GET", "/brand?_fulltext=acme", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "_fulltext")
}

func TestCreate_RoundTrip(t *testing.T) {
	h := setup(t)
	admin := perms.User(adminUserID)
	h.grant(t, admin, perms.OnModel("product"), "c", "")

	rec := h.do(t, admin, "POST", "/product", map[string]interface{}{
		"barcode":  "fresh",
		"priority": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	assert.Equal(t, "fresh", created["barcode"])
	assert.Equal(t, float64(3), created["priority"])
	assert.Nil(t, created["brand_id"])

	pk := int64(created["id"].(float64))
	rec = h.do(t, admin, "GET", fmt.Sprintf("/product/%d", pk), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeBody(t, rec))
}

func TestCreate_WithoutReadAcknowledges(t *testing.T) {
	h := setup(t)
	creator := perms.User(9)
	h.grant(t, creator, perms.OnModel("product"), "c", "")

	rec := h.do(t, creator, "POST", "/product", map[string]interface{}{"barcode": "hidden"})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["info"], "no permission to view it")

	// persisted regardless, and visible to the policy's admin user
	rec = h.do(t, perms.User(adminUserID), "GET", "/product?barcode=hidden", nil)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])
}

func TestCreate_RequiresCreatePermission(t *testing.T) {
	h := setup(t)
	user := perms.User(7)

	rec := h.do(t, user, "POST", "/product", map[string]interface{}{"barcode": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// with model read the denial becomes visible
	h.grant(t, user, perms.OnModel("product"), "r", "")
	rec = h.do(t, user, "POST", "/product", map[string]interface{}{"barcode": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreate_ValidationCollectsAllFields(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	h.grant(t, user, perms.OnModel("product"), "c", "")

	rec := h.do(t, user, "POST", "/product", map[string]interface{}{
		"bogus":   1,
		"id":      5,
		"tags":    []int{1},
		"_limit":  "underscore keys are stripped, not rejected",
		"barcode": "ok",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "bogus")
	assert.Contains(t, body, "id")
	assert.Contains(t, body, "tags")
	assert.NotContains(t, body, "barcode")
}

func TestCreate_ForeignKeyRevealRule(t *testing.T) {
	h := setup(t)
	user := perms.User(7)
	h.grant(t, user, perms.OnModel("product"), "cr", "")
	brand := h.insertBrand(t, "acme")

	payload := map[string]interface{}{"barcode": "x", "brand_id": brand}

	// no grant on the brand: its existence stays hidden
	rec := h.do(t, user, "POST", "/product", payload)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// read on the brand reveals the denial
	h.grant(t, user, perms.OnObjects("brand", brand), "r", "")
	rec = h.do(t, user, "POST", "/product", payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// write qualified by the reverse relation name satisfies the check
	h.grant(t, user, perms.OnObjects("brand", brand), "w", "products")
	rec = h.do(t, user, "POST", "/product", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(brand), decodeBody(t, rec)["brand_id"])
}
