package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cwerrors "github.com/capwire/capwire-go/pkg/errors"
	"github.com/capwire/capwire-go/pkg/protocol"
)

type salesQueryArgs struct {
	Region  string  `json:"region" jsonschema:"description=Sales region to query"`
	Year    int     `json:"year"`
	Limit   float64 `json:"limit,omitempty" jsonschema:"description=Maximum rows"`
	DryRun  bool    `json:"dry_run,omitempty"`
	Filters []string `json:"filters,omitempty"`
}

func TestSchemaForReflectsStruct(t *testing.T) {
	s := SchemaFor[salesQueryArgs]()
	require.NotNil(t, s)
	assert.Equal(t, "object", s.Type)

	require.Contains(t, s.Properties, "region")
	assert.Equal(t, "string", s.Properties["region"].Type)
	assert.Equal(t, "Sales region to query", s.Properties["region"].Description)

	require.Contains(t, s.Properties, "year")
	assert.Equal(t, "integer", s.Properties["year"].Type)

	require.Contains(t, s.Properties, "filters")
	assert.Equal(t, "array", s.Properties["filters"].Type)
	require.NotNil(t, s.Properties["filters"].Items)
	assert.Equal(t, "string", s.Properties["filters"].Items.Type)

	assert.Contains(t, s.Required, "region")
	assert.Contains(t, s.Required, "year")
	assert.NotContains(t, s.Required, "limit")
}

func TestValidateArgsRequired(t *testing.T) {
	schema := &protocol.Schema{
		Type:     "object",
		Required: []string{"region"},
		Properties: map[string]*protocol.Schema{
			"region": {Type: "string"},
		},
	}

	err := ValidateArgs(schema, map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeInvalidParams))

	assert.NoError(t, ValidateArgs(schema, map[string]interface{}{"region": "APAC"}))
}

func TestValidateArgsTypeChecks(t *testing.T) {
	schema := &protocol.Schema{
		Type: "object",
		Properties: map[string]*protocol.Schema{
			"region": {Type: "string"},
			"year":   {Type: "integer"},
			"limit":  {Type: "number"},
			"dry":    {Type: "boolean"},
			"tags":   {Type: "array", Items: &protocol.Schema{Type: "string"}},
		},
	}

	ok := map[string]interface{}{
		"region": "EMEA",
		// JSON numbers decode as float64.
		"year":  float64(2024),
		"limit": 2.5,
		"dry":   false,
		"tags":  []interface{}{"a", "b"},
	}
	assert.NoError(t, ValidateArgs(schema, ok))

	cases := map[string]map[string]interface{}{
		"region not string":  {"region": 7},
		"year not integer":   {"year": 2024.5},
		"limit not number":   {"limit": "many"},
		"dry not boolean":    {"dry": "yes"},
		"tags not array":     {"tags": "a"},
		"tag item not string": {"tags": []interface{}{"a", 3}},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateArgs(schema, args)
			require.Error(t, err)
			assert.True(t, cwerrors.IsCode(err, cwerrors.CodeInvalidParams))
		})
	}
}

func TestValidateArgsEnum(t *testing.T) {
	schema := &protocol.Schema{
		Type: "object",
		Properties: map[string]*protocol.Schema{
			"period": {Type: "string", Enum: []interface{}{"monthly", "quarterly"}},
		},
	}

	assert.NoError(t, ValidateArgs(schema, map[string]interface{}{"period": "monthly"}))

	err := ValidateArgs(schema, map[string]interface{}{"period": "daily"})
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeInvalidParams))
}

func TestValidateArgsUnknownPropertiesPass(t *testing.T) {
	schema := &protocol.Schema{
		Type:       "object",
		Properties: map[string]*protocol.Schema{"known": {Type: "string"}},
	}
	assert.NoError(t, ValidateArgs(schema, map[string]interface{}{"extra": 42}))
}

func TestValidateArgsNilSchemaAcceptsAnything(t *testing.T) {
	assert.NoError(t, ValidateArgs(nil, map[string]interface{}{"whatever": []interface{}{1, 2}}))
}
