package client

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capwire/capwire-go/pkg/logging"
	"github.com/capwire/capwire-go/pkg/protocol"
	"github.com/capwire/capwire-go/pkg/registry"
	"github.com/capwire/capwire-go/pkg/server"
	"github.com/capwire/capwire-go/pkg/transport"
)

// startPipedServer runs a real server over in-memory pipes and returns
// a connected session talking to it.
func startPipedServer(t *testing.T, reg *registry.Registry) *Session {
	t.Helper()

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	serverTr := transport.NewStdio(transport.WithStreams(serverReader, serverWriter))
	clientTr := transport.NewStdio(transport.WithStreams(clientReader, clientWriter))

	srv := server.New(serverTr, reg,
		server.WithLogger(logging.Nop()),
		server.WithServerInfo(protocol.ServerInfo{Name: "analytics", Version: "1.0"}))

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = srv.Serve(ctx)
	}()

	s := New(clientTr,
		WithLogger(logging.Nop()),
		WithClientInfo(protocol.ClientInfo{Name: "capls", Version: "1.0"}))
	require.NoError(t, s.Connect(context.Background()))

	t.Cleanup(func() {
		_ = s.Close(context.Background())
		cancel()
		<-serveDone
	})
	return s
}

func analyticsRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()

	salesSchema := &protocol.Schema{
		Type:     "object",
		Required: []string{"region", "year"},
		Properties: map[string]*protocol.Schema{
			"region": {Type: "string"},
			"year":   {Type: "integer"},
		},
	}
	require.NoError(t, reg.RegisterTool("fetch_sales_data", "query sales by region and year", salesSchema,
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{
				"region":           args["region"],
				"year":             args["year"],
				"total_sales":      1500000,
				"top_product":      "Widget Pro",
				"sales_by_quarter": []int{300000, 350000, 400000, 450000},
			}, nil
		}))

	require.NoError(t, reg.RegisterResource("resource://company/config", "company configuration",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return &protocol.ResourceContents{
				URI:      "resource://company/config",
				MimeType: "application/json",
				Text:     `{"company":"Acme Analytics","fiscal_year_start":"01-01"}`,
			}, nil
		}))

	require.NoError(t, reg.RegisterPrompt("sales_analysis_prompt", "frame a sales analysis", nil,
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			region, _ := args["region"].(string)
			return &protocol.PromptResult{
				Description: "sales analysis",
				Messages: []protocol.PromptMessage{
					{Role: "user", Content: "Analyze sales performance for " + region},
				},
			}, nil
		}))

	return reg
}

func TestEndToEndDiscoveryAndCalls(t *testing.T) {
	s := startPipedServer(t, analyticsRegistry(t))

	require.Equal(t, "analytics", s.ServerInfo().Name)

	tools, err := s.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "fetch_sales_data", tools[0].Name)
	require.NotNil(t, tools[0].Schema)
	assert.Contains(t, tools[0].Schema.Required, "region")

	resources, err := s.Resources(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 1)

	prompts, err := s.Prompts(context.Background())
	require.NoError(t, err)
	require.Len(t, prompts, 1)

	raw, err := s.CallTool(context.Background(), "fetch_sales_data", map[string]interface{}{
		"region": "APAC",
		"year":   2024,
	})
	require.NoError(t, err)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "APAC", result["region"])
	assert.Equal(t, float64(1500000), result["total_sales"])

	contents, err := s.ReadResource(context.Background(), "resource://company/config")
	require.NoError(t, err)
	assert.Equal(t, "application/json", contents.MimeType)
	assert.Contains(t, contents.Text, "Acme Analytics")

	prompt, err := s.GetPrompt(context.Background(), "sales_analysis_prompt", map[string]interface{}{
		"region": "EMEA",
	})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	assert.Contains(t, prompt.Messages[0].Content, "EMEA")
}

func TestEndToEndErrorsCrossTheWire(t *testing.T) {
	s := startPipedServer(t, analyticsRegistry(t))

	_, err := s.CallTool(context.Background(), "no_such_tool", nil)
	require.Error(t, err)
	var wireErr *protocol.Error
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, protocol.CapabilityNotFound, wireErr.Code)

	_, err = s.CallTool(context.Background(), "fetch_sales_data", map[string]interface{}{
		"region": "APAC",
		// year missing
	})
	require.Error(t, err)
	require.ErrorAs(t, err, &wireErr)
	assert.Equal(t, protocol.InvalidParams, wireErr.Code)
}

func TestEndToEndConcurrentCalls(t *testing.T) {
	s := startPipedServer(t, analyticsRegistry(t))

	type result struct {
		region string
		err    error
		got    string
	}
	regions := []string{"APAC", "EMEA", "AMER", "LATAM"}
	results := make(chan result, len(regions))

	for _, region := range regions {
		go func(region string) {
			raw, err := s.CallTool(context.Background(), "fetch_sales_data", map[string]interface{}{
				"region": region,
				"year":   2024,
			})
			r := result{region: region, err: err}
			if err == nil {
				var decoded map[string]interface{}
				if err := json.Unmarshal(raw, &decoded); err == nil {
					r.got, _ = decoded["region"].(string)
				}
			}
			results <- r
		}(region)
	}

	for range regions {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, r.region, r.got, "each call must get its own response")
	}
}
