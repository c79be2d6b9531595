package extension

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	goplugin "github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"

	"github.com/tyonishi/commanda-sub001/internal/metrics"
	"github.com/tyonishi/commanda-sub001/internal/observability"
	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
)

// launchFunc starts a provider binary and returns the connected provider
// together with a stop function that kills the subprocess.
type launchFunc func(binaryPath string) (Provider, func(), error)

// record is the registry's internal view of one loaded extension
type record struct {
	descriptor Descriptor
	specs      []ToolSpec
	registered []string
	provider   Provider
	stop       func()
}

// Registry owns the loaded extension set and keeps it in sync with the
// dispatcher's tool table. All mutation goes through its methods; loaded
// state is never shared out by reference.
type Registry struct {
	logger     zerolog.Logger
	dir        string
	dispatcher *dispatcher.Dispatcher
	manifests  *ManifestLoader
	discovery  *Discovery
	launch     launchFunc
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	loaded map[string]*record
}

// NewRegistry creates a registry over the given extensions directory. The
// directory is created on first Load if absent.
func NewRegistry(logger zerolog.Logger, dir string, d *dispatcher.Dispatcher) *Registry {
	return &Registry{
		logger:     logger.With().Str("component", "extension-registry").Logger(),
		dir:        dir,
		dispatcher: d,
		manifests:  NewManifestLoader(logger),
		discovery:  NewDiscovery(logger),
		launch:     launchProvider,
		loaded:     make(map[string]*record),
	}
}

// SetMetrics attaches load counters and the loaded-count gauge. Optional;
// without it the registry reports through logs and audit only.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

func (r *Registry) countLoad(status string) {
	if r.metrics != nil {
		r.metrics.ExtensionLoadsTotal.WithLabelValues(status).Inc()
	}
}

// syncLoadedGauge publishes the loaded count. Callers must not hold r.mu.
func (r *Registry) syncLoadedGauge() {
	if r.metrics != nil {
		r.metrics.ExtensionsLoaded.Set(float64(r.Count()))
	}
}

// launchProvider starts an extension binary with go-plugin over net/rpc
func launchProvider(binaryPath string) (Provider, func(), error) {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          ProviderMap,
		Cmd:              exec.Command(binaryPath),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to connect to provider: %w", err)
	}

	raw, err := rpcClient.Dispense("provider")
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to dispense provider: %w", err)
	}

	provider, ok := raw.(Provider)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("unexpected provider type")
	}

	return provider, client.Kill, nil
}

// Load scans the extensions directory once and brings up every loadable
// package. A failure in any single package is captured in the result and
// logged; it never aborts the rest of the scan.
func (r *Registry) Load(ctx context.Context) (*LoadResult, error) {
	result := &LoadResult{
		Loaded: []string{},
		Failed: []string{},
		Errors: make(map[string]error),
	}

	candidates, err := r.discovery.Scan(r.dir)
	if err != nil {
		return nil, fmt.Errorf("extension discovery failed: %w", err)
	}

	for _, candidate := range candidates {
		name, err := r.loadPackage(ctx, candidate)
		if err != nil {
			r.logger.Error().Err(err).Str("package", candidate.Name).Msg("Failed to load extension")
			r.countLoad("failure")
			observability.RecordExtensionAudit(ctx, "extension_loaded", "failure", map[string]interface{}{
				"name":  candidate.Name,
				"error": err.Error(),
			})
			result.Failed = append(result.Failed, candidate.Name)
			result.Errors[candidate.Name] = err
			continue
		}
		result.Loaded = append(result.Loaded, name)
		r.countLoad("success")
		r.logger.Info().Str("extension", name).Msg("Extension loaded")
	}

	sort.Strings(result.Loaded)
	sort.Strings(result.Failed)
	r.syncLoadedGauge()

	r.logger.Info().
		Int("loaded", len(result.Loaded)).
		Int("failed", len(result.Failed)).
		Msg("Extension load completed")

	return result, nil
}

// loadPackage brings up one package: manifest, binary, handshake,
// Describe, then registration.
func (r *Registry) loadPackage(ctx context.Context, candidate Candidate) (string, error) {
	manifest, err := r.manifests.Load(candidate.ManifestPath)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	_, taken := r.loaded[manifest.Name]
	r.mu.RUnlock()
	if taken {
		return "", fmt.Errorf("%w: %s", ErrAlreadyLoaded, manifest.Name)
	}

	binaryPath := filepath.Join(candidate.Path, manifest.Main)
	if _, err := os.Stat(binaryPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryMissing, binaryPath)
	}

	provider, stop, err := r.launch(binaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to start provider: %w", err)
	}

	specs, err := provider.Describe(ctx)
	if err != nil {
		stop()
		return "", fmt.Errorf("describe failed: %w", err)
	}

	descriptor := Descriptor{
		Name:        manifest.Name,
		Version:     manifest.Version,
		Description: manifest.Description,
		Path:        candidate.Path,
		Enabled:     true,
		InstalledAt: time.Now(),
	}

	if !r.register(descriptor, specs, provider, stop) {
		stop()
		return "", fmt.Errorf("%w: %s", ErrAlreadyLoaded, manifest.Name)
	}

	// Extension code now runs inside the trust boundary; the audit trail
	// records what was loaded and at which version.
	observability.RecordExtensionAudit(ctx, "extension_loaded", "success", map[string]interface{}{
		"name":    manifest.Name,
		"version": manifest.Version,
	})

	return manifest.Name, nil
}

// Register adds an already-connected provider under the given descriptor.
// It is an add-if-absent: a second registration under a taken name is a
// no-op returning false. Intended for in-process providers; packages on
// disk arrive through Load.
func (r *Registry) Register(descriptor Descriptor, provider Provider) bool {
	specs, err := provider.Describe(context.Background())
	if err != nil {
		r.logger.Error().Err(err).Str("extension", descriptor.Name).Msg("Describe failed during registration")
		return false
	}
	if descriptor.InstalledAt.IsZero() {
		descriptor.InstalledAt = time.Now()
	}
	descriptor.Enabled = true
	added := r.register(descriptor, specs, provider, nil)
	if added {
		r.syncLoadedGauge()
	}
	return added
}

// register wires the provider's tools into the dispatcher and records the
// extension. Returns false when the name is already taken.
func (r *Registry) register(descriptor Descriptor, specs []ToolSpec, provider Provider, stop func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.loaded[descriptor.Name]; exists {
		return false
	}

	rec := &record{
		descriptor: descriptor,
		specs:      specs,
		provider:   provider,
		stop:       stop,
	}
	rec.registered = r.registerTools(rec)

	r.loaded[descriptor.Name] = rec
	return true
}

// registerTools registers the record's described tools into the
// dispatcher behind invoke adapters. Holds r.mu.
func (r *Registry) registerTools(rec *record) []string {
	registered := make([]string, 0, len(rec.specs))
	for _, spec := range rec.specs {
		def := dispatcher.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  toolParameters(spec.Parameters),
			Handler:     r.invokeHandler(rec.descriptor.Name, spec.Name),
		}

		finalName, err := r.dispatcher.RegisterExtensionTool(rec.descriptor.Name, def)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("extension", rec.descriptor.Name).
				Str("tool", spec.Name).
				Msg("Failed to register extension tool")
			continue
		}
		registered = append(registered, finalName)
	}
	sort.Strings(registered)
	return registered
}

// invokeHandler adapts one provider tool into a dispatcher handler. The
// record is looked up per call so a reloaded provider is picked up and a
// disabled or unregistered one fails cleanly.
func (r *Registry) invokeHandler(extensionName, toolName string) dispatcher.ToolHandler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		r.mu.Lock()
		rec, exists := r.loaded[extensionName]
		if exists {
			now := time.Now()
			rec.descriptor.LastUsedAt = &now
		}
		r.mu.Unlock()

		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrNotLoaded, extensionName)
		}

		output, err := rec.provider.Invoke(ctx, toolName, args)
		if err != nil {
			return nil, fmt.Errorf("extension %s: %w", extensionName, err)
		}
		return output, nil
	}
}

// Unregister removes an extension by name: its tools leave the dispatcher
// and its provider subprocess is killed. Returns false when the name is
// not loaded.
func (r *Registry) Unregister(ctx context.Context, name string) bool {
	r.mu.Lock()
	rec, exists := r.loaded[name]
	if exists {
		delete(r.loaded, name)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}

	removed := r.dispatcher.UnregisterExtension(name)
	if rec.stop != nil {
		rec.stop()
	}
	r.syncLoadedGauge()

	r.logger.Info().
		Str("extension", name).
		Strs("tools", removed).
		Msg("Extension unregistered")
	observability.RecordExtensionAudit(ctx, "extension_unloaded", "success", map[string]interface{}{
		"name":  name,
		"tools": removed,
	})

	return true
}

// Reload discards all runtime state and scans fresh. Providers are
// killed, their tools unregistered, and every package on disk is loaded
// anew; state accumulated by prior provider instances is gone.
func (r *Registry) Reload(ctx context.Context) (*LoadResult, error) {
	r.mu.Lock()
	records := make([]*record, 0, len(r.loaded))
	for _, rec := range r.loaded {
		records = append(records, rec)
	}
	r.loaded = make(map[string]*record)
	r.mu.Unlock()

	for _, rec := range records {
		r.dispatcher.UnregisterExtension(rec.descriptor.Name)
		if rec.stop != nil {
			rec.stop()
		}
	}

	r.logger.Info().Int("discarded", len(records)).Msg("Reloading extensions")

	return r.Load(ctx)
}

// GetLoaded returns descriptors of every loaded extension sorted by name
func (r *Registry) GetLoaded() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.loaded))
	for _, rec := range r.loaded {
		d := rec.descriptor
		d.Tools = append([]string(nil), rec.registered...)
		descriptors = append(descriptors, d)
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })

	return descriptors
}

// Get returns the descriptor for one extension
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.loaded[name]
	if !exists {
		return Descriptor{}, false
	}
	d := rec.descriptor
	d.Tools = append([]string(nil), rec.registered...)
	return d, true
}

// SetEnabled flips an extension's enabled flag. Disabling unregisters the
// extension's tools so a disabled extension contributes none; enabling
// re-registers them from the live provider. Returns false for unknown
// names.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.loaded[name]
	if !exists {
		return false
	}

	if rec.descriptor.Enabled == enabled {
		return true
	}
	rec.descriptor.Enabled = enabled

	if enabled {
		rec.registered = r.registerTools(rec)
		r.logger.Info().Str("extension", name).Strs("tools", rec.registered).Msg("Extension enabled")
		observability.RecordExtensionAudit(ctx, "extension_enabled", "success", map[string]interface{}{"name": name})
		return true
	}

	removed := r.dispatcher.UnregisterExtension(name)
	rec.registered = nil
	r.logger.Info().Str("extension", name).Strs("tools", removed).Msg("Extension disabled")
	observability.RecordExtensionAudit(ctx, "extension_disabled", "success", map[string]interface{}{"name": name})
	return true
}

// Count returns the number of loaded extensions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.loaded)
}

// Shutdown kills every provider subprocess and clears the loaded set
func (r *Registry) Shutdown() {
	r.mu.Lock()
	records := make([]*record, 0, len(r.loaded))
	for _, rec := range r.loaded {
		records = append(records, rec)
	}
	r.loaded = make(map[string]*record)
	r.mu.Unlock()

	for _, rec := range records {
		r.dispatcher.UnregisterExtension(rec.descriptor.Name)
		if rec.stop != nil {
			rec.stop()
		}
	}
	r.syncLoadedGauge()

	r.logger.Info().Int("count", len(records)).Msg("Extension registry shut down")
}

// toolParameters converts provider parameter specs to dispatcher ones
func toolParameters(specs []ParameterSpec) []dispatcher.ToolParameter {
	params := make([]dispatcher.ToolParameter, 0, len(specs))
	for _, p := range specs {
		params = append(params, dispatcher.ToolParameter{
			Name:        p.Name,
			Type:        p.Type,
			Description: p.Description,
			Required:    p.Required,
		})
	}
	return params
}
