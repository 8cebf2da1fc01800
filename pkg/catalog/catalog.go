// Package catalog declares the models the stock fieldgate binaries
// serve. Deployments with their own domain replace this package and
// assemble their own registry.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/fieldgate/fieldgate/pkg/model"
	"github.com/fieldgate/fieldgate/pkg/perms"
)

// Registry builds and integrity-checks the catalog model registry.
func Registry() (*model.Registry, error) {
	reg := model.NewRegistry()

	brand := &model.Descriptor{
		Name:  "brand",
		Table: "brands",
		Fields: []model.Field{
			{Name: "name", Kind: model.Attribute, SQLType: "VARCHAR(255)"},
			{
				Name:         "products",
				Kind:         model.ReverseForeignKey,
				Related:      "product",
				RemoteColumn: "brand_id",
				ReverseName:  "brand",
			},
		},
		AccessControlled: true,
		Policy:           anyoneReads("name"),
		TextFeature: func(obj *model.Object) string {
			v, _ := obj.Get("name")
			return fmt.Sprint(v)
		},
	}

	product := &model.Descriptor{
		Name:  "product",
		Table: "products",
		Fields: []model.Field{
			{Name: "barcode", Kind: model.Attribute, SQLType: "VARCHAR(255)"},
			{Name: "description", Kind: model.Attribute, SQLType: "TEXT", Nullable: true},
			{Name: "priority", Kind: model.Attribute, SQLType: "BIGINT", Nullable: true},
			{
				Name:        "brand",
				Kind:        model.ForeignKey,
				Related:     "brand",
				Nullable:    true,
				ReverseName: "products",
			},
			{
				Name:          "tags",
				Kind:          model.ManyToMany,
				Related:       "tag",
				Through:       "product_tags",
				ThroughLocal:  "product_id",
				ThroughRemote: "tag_id",
				ReverseName:   "products",
			},
		},
		AccessControlled: true,
		Policy:           anyoneReads(""),
		TextFeature: func(obj *model.Object) string {
			barcode, _ := obj.Get("barcode")
			description, _ := obj.Get("description")
			if description == nil {
				return fmt.Sprint(barcode)
			}
			return strings.TrimSpace(fmt.Sprintf("%v %v", barcode, description))
		},
	}

	tag := &model.Descriptor{
		Name:  "tag",
		Table: "tags",
		Fields: []model.Field{
			{Name: "label", Kind: model.Attribute, SQLType: "VARCHAR(100)"},
			{
				Name:          "products",
				Kind:          model.ManyToMany,
				Related:       "product",
				Through:       "product_tags",
				ThroughLocal:  "tag_id",
				ThroughRemote: "product_id",
				ReverseName:   "tags",
			},
		},
		AccessControlled: true,
		Policy:           anyoneReads(""),
	}

	for _, d := range []*model.Descriptor{brand, product, tag} {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	if err := reg.CheckIntegrity(); err != nil {
		return nil, err
	}
	return reg, nil
}

// anyoneReads grants read to everyone on each saved object. A non-empty
// field narrows the grant to that field.
func anyoneReads(field string) model.AccessPolicy {
	return func(ctx context.Context, obj *model.Object) []model.GrantSpec {
		return []model.GrantSpec{
			{Group: perms.AnyoneGroupName, Actions: "r", Field: field},
		}
	}
}
