package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Interface names under which adapters are indexed.
const (
	InterfaceInitializer = "Initializer"
	InterfaceShutdowner  = "Shutdowner"
	InterfaceWebhooks    = "WebhookInvoker"
	InterfaceMedia       = "MediaResolver"
	InterfaceHours       = "BusinessHours"
	InterfaceSink        = "OutboundSink"
	InterfaceDefinitions = "DefinitionStore"
	InterfaceInstances   = "InstanceStore"
)

// Container holds the adapters of a process and drives their lifecycle.
// Adapters are registered by name; the capabilities they implement are
// detected once at registration.
type Container struct {
	adapters            map[string]any
	order               []string
	adaptersByInterface map[string][]any
}

func NewContainer() *Container {
	return &Container{
		adapters:            make(map[string]any),
		adaptersByInterface: make(map[string][]any),
	}
}

// Register adds an adapter under name. Names are unique.
func (c *Container) Register(name string, adapter any) error {
	if adapter == nil {
		return fmt.Errorf("adapter %q cannot be nil", name)
	}
	if _, exists := c.adapters[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}

	c.adapters[name] = adapter
	c.order = append(c.order, name)
	c.detectInterfaces(adapter)
	return nil
}

func (c *Container) detectInterfaces(adapter any) {
	add := func(iface string) {
		c.adaptersByInterface[iface] = append(c.adaptersByInterface[iface], adapter)
	}
	if _, ok := adapter.(Initializer); ok {
		add(InterfaceInitializer)
	}
	if _, ok := adapter.(Shutdowner); ok {
		add(InterfaceShutdowner)
	}
	if _, ok := adapter.(WebhookInvoker); ok {
		add(InterfaceWebhooks)
	}
	if _, ok := adapter.(MediaResolver); ok {
		add(InterfaceMedia)
	}
	if _, ok := adapter.(BusinessHours); ok {
		add(InterfaceHours)
	}
	if _, ok := adapter.(OutboundSink); ok {
		add(InterfaceSink)
	}
	if _, ok := adapter.(DefinitionStore); ok {
		add(InterfaceDefinitions)
	}
	if _, ok := adapter.(InstanceStore); ok {
		add(InterfaceInstances)
	}
}

// Get returns an adapter by name.
func (c *Container) Get(name string) any {
	return c.adapters[name]
}

// Adapters builds the interpreter adapters from the first registered
// implementation of each capability.
func (c *Container) Adapters() Adapters {
	var a Adapters
	if v := c.first(InterfaceWebhooks); v != nil {
		a.Webhooks = v.(WebhookInvoker)
	}
	if v := c.first(InterfaceMedia); v != nil {
		a.Media = v.(MediaResolver)
	}
	if v := c.first(InterfaceHours); v != nil {
		a.Hours = v.(BusinessHours)
	}
	if v := c.first(InterfaceSink); v != nil {
		a.Sink = v.(OutboundSink)
	}
	return a
}

// Stores returns the first registered definition and instance stores.
func (c *Container) Stores() (DefinitionStore, InstanceStore, error) {
	defs, _ := c.first(InterfaceDefinitions).(DefinitionStore)
	insts, _ := c.first(InterfaceInstances).(InstanceStore)
	if defs == nil {
		return nil, nil, errors.New("no definition store registered")
	}
	if insts == nil {
		return nil, nil, errors.New("no instance store registered")
	}
	return defs, insts, nil
}

func (c *Container) first(iface string) any {
	if list := c.adaptersByInterface[iface]; len(list) > 0 {
		return list[0]
	}
	return nil
}

// Initialize calls Initialize on every Initializer in registration order and
// stops at the first failure.
func (c *Container) Initialize(ctx context.Context) error {
	for _, name := range c.order {
		initializer, ok := c.adapters[name].(Initializer)
		if !ok {
			continue
		}
		if err := initializer.Initialize(ctx); err != nil {
			return fmt.Errorf("adapter %q initialization failed: %w", name, err)
		}
	}
	return nil
}

// Shutdown calls Shutdown on every Shutdowner in reverse registration order
// and joins the errors.
func (c *Container) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(c.order) - 1; i >= 0; i-- {
		name := c.order[i]
		s, ok := c.adapters[name].(Shutdowner)
		if !ok {
			continue
		}
		if err := s.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("adapter %q shutdown failed: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
