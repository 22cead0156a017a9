// SPDX-License-Identifier: Apache-2.0

package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/geocoug/pg-upsert/internal/catalog"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantErr bool
	}{
		{"plain name", "books", false},
		{"leading underscore", "_books", false},
		{"digits and dollar", "books_2024$v2", false},
		{"empty", "", true},
		{"leading digit", "2books", true},
		{"contains space", "books table", true},
		{"semicolon injection attempt", "books; DROP TABLE books;--", true},
		{"dot qualified not allowed here", "public.books", true},
		{"too long", string(make([]byte, 64)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := catalog.ValidateIdentifier(tt.ident)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQuoteQualified(t *testing.T) {
	ident, err := catalog.QuoteQualified("public", "books")
	assert.NoError(t, err)
	assert.Equal(t, `"public"."books"`, ident)

	_, err = catalog.QuoteQualified("public", "books; DROP TABLE books")
	assert.Error(t, err)
}

func TestTableDescriptorIdents(t *testing.T) {
	desc := &catalog.TableDescriptor{
		BaseSchema:    "public",
		BaseTable:     "books",
		StagingSchema: "staging",
		StagingTable:  "books",
	}

	assert.Equal(t, `"public"."books"`, desc.BaseIdent())
	assert.Equal(t, `"staging"."books"`, desc.StagingIdent())
}
