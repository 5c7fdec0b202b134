package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/capwire/capwire-go/pkg/protocol"
)

// capabilityCache memoizes discovery listings per connection. Every
// Connect clears it, so a reconnected session re-discovers whatever
// the server now offers.
type capabilityCache struct {
	session *Session

	mu        sync.Mutex
	toolList  []protocol.CapabilityDescriptor
	resList   []protocol.CapabilityDescriptor
	promList  []protocol.CapabilityDescriptor
	haveTools bool
	haveRes   bool
	haveProm  bool
}

func (c *capabilityCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolList, c.resList, c.promList = nil, nil, nil
	c.haveTools, c.haveRes, c.haveProm = false, false, false
}

func (c *capabilityCache) tools(ctx context.Context) ([]protocol.CapabilityDescriptor, error) {
	c.mu.Lock()
	if c.haveTools {
		cached := c.toolList
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var result protocol.ListToolsResult
	if err := c.list(ctx, protocol.KindTool.ListMethod(), &result); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.toolList = result.Tools
	c.haveTools = true
	c.mu.Unlock()
	return result.Tools, nil
}

func (c *capabilityCache) resources(ctx context.Context) ([]protocol.CapabilityDescriptor, error) {
	c.mu.Lock()
	if c.haveRes {
		cached := c.resList
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var result protocol.ListResourcesResult
	if err := c.list(ctx, protocol.KindResource.ListMethod(), &result); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.resList = result.Resources
	c.haveRes = true
	c.mu.Unlock()
	return result.Resources, nil
}

func (c *capabilityCache) prompts(ctx context.Context) ([]protocol.CapabilityDescriptor, error) {
	c.mu.Lock()
	if c.haveProm {
		cached := c.promList
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var result protocol.ListPromptsResult
	if err := c.list(ctx, protocol.KindPrompt.ListMethod(), &result); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.promList = result.Prompts
	c.haveProm = true
	c.mu.Unlock()
	return result.Prompts, nil
}

func (c *capabilityCache) list(ctx context.Context, method string, out interface{}) error {
	s := c.session
	if err := s.requireReady(); err != nil {
		return err
	}
	raw, err := s.tracedCall(ctx, method, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
