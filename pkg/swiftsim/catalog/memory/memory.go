package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
)

type containerKey struct {
	account, name string
}

// Catalog is an in-memory implementation of catalog.Catalog
type Catalog struct {
	mu         sync.RWMutex
	accounts   map[string]*catalog.Account
	containers map[containerKey]*catalog.Container
	objects    map[containerKey]map[string]*catalog.Object
	sequence   int64
}

// New creates a new in-memory catalog
func New() catalog.Catalog {
	return &Catalog{
		accounts:   make(map[string]*catalog.Account),
		containers: make(map[containerKey]*catalog.Container),
		objects:    make(map[containerKey]map[string]*catalog.Object),
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyAccount(a *catalog.Account) *catalog.Account {
	c := *a
	c.Metadata = copyMap(a.Metadata)
	return &c
}

func copyContainer(ct *catalog.Container) *catalog.Container {
	c := *ct
	c.Metadata = copyMap(ct.Metadata)
	return &c
}

func copyObject(o *catalog.Object) *catalog.Object {
	c := *o
	c.Metadata = copyMap(o.Metadata)
	c.CORS = copyMap(o.CORS)
	if o.DeleteAt != nil {
		at := *o.DeleteAt
		c.DeleteAt = &at
	}
	return &c
}

// Account operations

func (c *Catalog) GetAccount(ctx context.Context, name string) (*catalog.Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.accounts[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return copyAccount(a), nil
}

func (c *Catalog) PutAccount(ctx context.Context, account *catalog.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accounts[account.Name] = copyAccount(account)
	return nil
}

// Container operations

func (c *Catalog) CreateContainer(ctx context.Context, container *catalog.Container) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := containerKey{container.Account, container.Name}
	if _, ok := c.containers[key]; ok {
		return catalog.ErrExists
	}
	c.containers[key] = copyContainer(container)
	c.objects[key] = make(map[string]*catalog.Object)
	return nil
}

func (c *Catalog) GetContainer(ctx context.Context, account, name string) (*catalog.Container, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ct, ok := c.containers[containerKey{account, name}]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return copyContainer(ct), nil
}

func (c *Catalog) UpdateContainer(ctx context.Context, container *catalog.Container) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := containerKey{container.Account, container.Name}
	if _, ok := c.containers[key]; !ok {
		return catalog.ErrNotFound
	}
	c.containers[key] = copyContainer(container)
	return nil
}

func (c *Catalog) DeleteContainer(ctx context.Context, account, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := containerKey{account, name}
	if _, ok := c.containers[key]; !ok {
		return catalog.ErrNotFound
	}
	delete(c.containers, key)
	delete(c.objects, key)
	return nil
}

func (c *Catalog) ListContainers(ctx context.Context, account string, params catalog.ListParams) ([]*catalog.Container, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for key := range c.containers {
		if key.account == account && matches(key.name, params) {
			names = append(names, key.name)
		}
	}
	names = page(names, params.Limit)

	out := make([]*catalog.Container, 0, len(names))
	for _, name := range names {
		out = append(out, copyContainer(c.containers[containerKey{account, name}]))
	}
	return out, nil
}

func (c *Catalog) ContainerStats(ctx context.Context, account, name string) (catalog.ContainerStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	objects, ok := c.objects[containerKey{account, name}]
	if !ok {
		return catalog.ContainerStats{}, catalog.ErrNotFound
	}
	var stats catalog.ContainerStats
	for _, o := range objects {
		stats.Count++
		stats.Bytes += o.Size
	}
	return stats, nil
}

// Object operations

func (c *Catalog) PutObject(ctx context.Context, object *catalog.Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	objects, ok := c.objects[containerKey{object.Account, object.Container}]
	if !ok {
		return catalog.ErrNotFound
	}
	objects[object.Name] = copyObject(object)
	return nil
}

func (c *Catalog) GetObject(ctx context.Context, account, container, name string) (*catalog.Object, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	o, ok := c.objects[containerKey{account, container}][name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return copyObject(o), nil
}

func (c *Catalog) DeleteObject(ctx context.Context, account, container, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	objects := c.objects[containerKey{account, container}]
	if _, ok := objects[name]; !ok {
		return catalog.ErrNotFound
	}
	delete(objects, name)
	return nil
}

func (c *Catalog) ListObjects(ctx context.Context, account, container string, params catalog.ListParams) ([]*catalog.Object, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	objects, ok := c.objects[containerKey{account, container}]
	if !ok {
		return nil, catalog.ErrNotFound
	}

	var names []string
	for name := range objects {
		if matches(name, params) {
			names = append(names, name)
		}
	}
	names = page(names, params.Limit)

	out := make([]*catalog.Object, 0, len(names))
	for _, name := range names {
		out = append(out, copyObject(objects[name]))
	}
	return out, nil
}

func (c *Catalog) NextSequence(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	return c.sequence, nil
}

func matches(name string, params catalog.ListParams) bool {
	return strings.HasPrefix(name, params.Prefix) && name > params.Marker
}

func page(names []string, limit int) []string {
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names
}
