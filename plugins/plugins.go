// Package plugins hosts loupe plugins. Plugins are registered explicitly by
// name and activated at orchestrator construction from the plugin
// declarations in the configuration.
package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loupe-ci/loupe/config"
	"github.com/loupe-ci/loupe/events"
)

// NamePrefix is the naming convention plugin declarations must follow.
const NamePrefix = "loupe-"

// InitHook is a plugin-registered initialization step. The orchestrator
// awaits every hook exactly once, before the first public operation body
// runs.
type InitHook func(ctx context.Context) error

// Plugin activates a plugin against the narrow API it is handed.
type Plugin func(api *API, opts map[string]any) error

// API is the capability surface a plugin receives: event subscription,
// read-only configuration access and init-hook registration. Plugins never
// see the orchestrator itself.
type API struct {
	bus *events.Bus
	cfg *config.Config

	mu    sync.Mutex
	hooks []InitHook
}

// NewAPI creates the plugin capability surface.
func NewAPI(bus *events.Bus, cfg *config.Config) *API {
	return &API{bus: bus, cfg: cfg}
}

// On subscribes to a lifecycle event; it returns a detach function.
func (a *API) On(event string, fn events.Handler) func() {
	return a.bus.On(event, fn)
}

// Config returns the read-only system configuration.
func (a *API) Config() *config.Config {
	return a.cfg
}

// OnInit registers a hook the orchestrator awaits during one-time
// initialization.
func (a *API) OnInit(hook InitHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, hook)
}

// InitHooks returns the registered hooks in registration order.
func (a *API) InitHooks() []InitHook {
	a.mu.Lock()
	defer a.mu.Unlock()
	hooks := make([]InitHook, len(a.hooks))
	copy(hooks, a.hooks)
	return hooks
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Plugin)
)

// Register makes a plugin available under the given full name (including
// the naming-convention prefix). Registering a duplicate name panics, the
// same way a duplicate flag registration would.
func Register(name string, p Plugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("plugins: duplicate registration of %q", name))
	}
	registry[name] = p
}

// Load scans decls for entries matching prefix and activates each enabled
// plugin against api. A declaration with a false or nil value is disabled;
// a map value is passed to the plugin as its options.
func Load(api *API, decls map[string]any, prefix string) error {
	names := make([]string, 0, len(decls))
	for name := range decls {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		opts, enabled := pluginOptions(decls[name])
		if !enabled {
			continue
		}
		plugin, err := resolve(name)
		if err != nil {
			return err
		}
		if err := plugin(api, opts); err != nil {
			return fmt.Errorf("activating plugin %q: %w", name, err)
		}
	}
	return nil
}

func resolve(name string) (Plugin, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q (is it registered?)", name)
	}
	return p, nil
}

func pluginOptions(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case bool:
		return map[string]any{}, v
	case map[string]any:
		return v, true
	default:
		return map[string]any{"value": v}, true
	}
}
