package aisearch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name      string
		query     Query
		wantField string
	}{
		{"valid", Query{Query: "what is 6x7", User: "guest"}, ""},
		{"valid with inputs", Query{Query: "q", User: "u", Inputs: map[string]any{"lang": "en"}, ConversationID: "c1"}, ""},
		{"empty query", Query{User: "u"}, "query"},
		{"blank query", Query{Query: " \n\t", User: "u"}, "query"},
		{"too long", Query{Query: strings.Repeat("é", MaxQueryLength+1), User: "u"}, "query"},
		{"max length", Query{Query: strings.Repeat("é", MaxQueryLength), User: "u"}, ""},
		{"missing user", Query{Query: "q"}, "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.wantField, validationErr.Field)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestUpstreamID_IsValid(t *testing.T) {
	assert.True(t, UpstreamWorkflowAPI.IsValid())
	assert.True(t, UpstreamLorem.IsValid())
	assert.False(t, UpstreamID("file").IsValid())
	assert.Equal(t, "lorem", UpstreamLorem.String())
}
