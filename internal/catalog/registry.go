package catalog

import (
	"fmt"
	"sort"
	"sync"
)

// Registry provides in-memory access to instance class specs
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*InstanceSpec
	amis      map[Virtualization]string
	loader    *Loader
}

// NewRegistry creates a new registry and loads the catalog
func NewRegistry(loader *Loader) (*Registry, error) {
	r := &Registry{
		instances: make(map[string]*InstanceSpec),
		amis:      make(map[Virtualization]string),
		loader:    loader,
	}

	if err := r.Reload(); err != nil {
		return nil, fmt.Errorf("initial catalog load: %w", err)
	}

	return r, nil
}

// Get retrieves an instance class spec by name
func (r *Registry) Get(name string) (*InstanceSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, exists := r.instances[name]
	if !exists {
		return nil, fmt.Errorf("get %s: %w", name, ErrUnknownInstanceClass)
	}

	return spec, nil
}

// ListPrice returns the on-demand hourly price of an instance class
func (r *Registry) ListPrice(name string) (float64, error) {
	spec, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	return spec.ListPrice, nil
}

// AMI returns the image an instance class boots
func (r *Registry) AMI(name string) (string, error) {
	spec, err := r.Get(name)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ami, ok := r.amis[spec.Virtualization]
	if !ok {
		return "", fmt.Errorf("get AMI for %s: %w %s", name, ErrNoAMI, spec.Virtualization)
	}
	return ami, nil
}

// OverrideAMI replaces the image used for a virtualization type
func (r *Registry) OverrideAMI(virt Virtualization, ami string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.amis[virt] = ami
}

// List returns all instance class specs sorted by name
func (r *Registry) List() []*InstanceSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]*InstanceSpec, 0, len(r.instances))
	for _, spec := range r.instances {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].Name < specs[j].Name
	})

	return specs
}

// Reload reloads the catalog from its source
func (r *Registry) Reload() error {
	c, err := r.loader.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances = make(map[string]*InstanceSpec, len(c.Instances))
	for i := range c.Instances {
		spec := c.Instances[i]
		r.instances[spec.Name] = &spec
	}

	r.amis = make(map[Virtualization]string, len(c.AMIs))
	for virt, ami := range c.AMIs {
		r.amis[virt] = ami
	}

	return nil
}

// Count returns the number of instance classes
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.instances)
}
