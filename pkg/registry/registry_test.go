package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cwerrors "github.com/capwire/capwire-go/pkg/errors"
	"github.com/capwire/capwire-go/pkg/protocol"
)

func noopHandler(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func TestRegisterAndResolve(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterTool("fetch_sales_data", "fetch sales rows", nil, noopHandler))

	desc, handler, err := r.Resolve(protocol.KindTool, "fetch_sales_data")
	require.NoError(t, err)
	require.NotNil(t, handler)
	assert.Equal(t, protocol.KindTool, desc.Kind)
	assert.Equal(t, "fetch_sales_data", desc.Name)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterTool("calc", "", nil, noopHandler))

	err := r.RegisterTool("calc", "second", nil, noopHandler)
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeDuplicateCapability))

	// First registration survives.
	desc, _, err := r.Resolve(protocol.KindTool, "calc")
	require.NoError(t, err)
	assert.Empty(t, desc.Description)
}

func TestSameNameDifferentKinds(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterTool("analysis", "", nil, noopHandler))
	require.NoError(t, r.RegisterPrompt("analysis", "", nil, noopHandler))

	_, _, err := r.Resolve(protocol.KindTool, "analysis")
	assert.NoError(t, err)
	_, _, err = r.Resolve(protocol.KindPrompt, "analysis")
	assert.NoError(t, err)
}

func TestResolveUnknown(t *testing.T) {
	r := New()
	_, _, err := r.Resolve(protocol.KindTool, "ghost")
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeCapabilityNotFound))
	assert.True(t, cwerrors.IsCategory(err, cwerrors.CategoryNotFound))
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := New()
	names := []string{"zeta", "alpha", "mid"}
	for _, name := range names {
		require.NoError(t, r.RegisterTool(name, "", nil, noopHandler))
	}

	listed := r.List(protocol.KindTool)
	require.Len(t, listed, 3)
	for i, name := range names {
		assert.Equal(t, name, listed[i].Name)
	}
}

func TestResolveResourceExactAndTemplate(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterResource("resource://company/config", "static config", noopHandler))
	require.NoError(t, r.RegisterResource("report://{report_type}", "generated report", noopHandler))
	require.NoError(t, r.RegisterResource("database://{table_name}/schema", "table schema", noopHandler))

	desc, _, params, err := r.ResolveResource("resource://company/config")
	require.NoError(t, err)
	assert.Equal(t, "resource://company/config", desc.Name)
	assert.Nil(t, params)

	desc, _, params, err = r.ResolveResource("report://quarterly")
	require.NoError(t, err)
	assert.Equal(t, "report://{report_type}", desc.Name)
	assert.Equal(t, map[string]interface{}{"report_type": "quarterly"}, params)

	_, _, params, err = r.ResolveResource("database://sales/schema")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"table_name": "sales"}, params)

	_, _, _, err = r.ResolveResource("database://sales/rows")
	require.Error(t, err)
	assert.True(t, cwerrors.IsCode(err, cwerrors.CodeCapabilityNotFound))

	_, _, _, err = r.ResolveResource("unknown://thing")
	require.Error(t, err)
}

func TestCapabilitiesSummary(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterTool("t", "", nil, noopHandler))

	caps := r.Capabilities()
	assert.True(t, caps["tools"])
	assert.False(t, caps["resources"])
	assert.False(t, caps["prompts"])
}
