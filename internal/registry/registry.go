// Package registry stores versioned model bundles on disk, maintains
// the "current" alias and loads bundles through an ordered chain of
// fallback strategies.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/anomaly"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/features"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fraudscore-registry")

// Artifact is one trained model to be saved.
type Artifact struct {
	Model    domain.AnomalyModel
	Scaler   *features.Scaler
	Metadata *domain.ModelMetadata
}

// Bundle is a loaded model with its scaler.
type Bundle struct {
	Model    domain.AnomalyModel
	Scaler   *features.Scaler
	Metadata *domain.ModelMetadata

	// Version is the version recorded in the metadata, or "unknown".
	Version string

	// Strategy names the load strategy that produced the bundle.
	Strategy string
}

// VersionInfo describes one saved version.
type VersionInfo struct {
	Version string                  `json:"version" yaml:"version"`
	Current bool                    `json:"current" yaml:"current"`
	Models  []*domain.ModelMetadata `json:"models" yaml:"models"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithCache caches bytes read from version directories.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(r *Registry) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithCatalog records every saved version in c.
func WithCatalog(c domain.ModelCatalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithMetrics records load attempts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithCodecs overrides the codec preference order.
func WithCodecs(codecs ...anomaly.Codec) Option {
	return func(r *Registry) { r.codecs = codecs }
}

// Registry is the on-disk model store. It assumes a single writer;
// any number of readers may call Load concurrently.
type Registry struct {
	root     string
	aliases  domain.AliasStore
	catalog  domain.ModelCatalog
	cache    domain.Cache
	cacheTTL time.Duration
	codecs   []anomaly.Codec
	metrics  *metrics.Metrics
}

// New opens the registry rooted at root, creating it if needed.
func New(root string, aliases domain.AliasStore, opts ...Option) (*Registry, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: registry root is required", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry root: %w", err)
	}
	if aliases == nil {
		aliases = NewFileAliasStore(root)
	}

	r := &Registry{
		root:    root,
		aliases: aliases,
		codecs:  anomaly.Codecs(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root returns the registry directory.
func (r *Registry) Root() string {
	return r.root
}

func modelFile(kind domain.ModelType, codec anomaly.Codec) string {
	return string(kind) + ".model" + codec.Ext()
}

func scalerFile(kind domain.ModelType) string {
	return string(kind) + ".scaler.json"
}

func metadataFile(kind domain.ModelType) string {
	return string(kind) + ".metadata.json"
}

// ValidateVersion rejects names that cannot be a version directory.
func ValidateVersion(version string) error {
	switch {
	case version == "":
		return fmt.Errorf("%w: version is required", domain.ErrInvalidInput)
	case version == domain.VersionLatest, version == domain.VersionUnknown, version == domain.AliasCurrent:
		return fmt.Errorf("%w: %q is reserved", domain.ErrInvalidInput, version)
	case strings.HasPrefix(version, "."), strings.ContainsAny(version, `/\`):
		return fmt.Errorf("%w: invalid version %q", domain.ErrInvalidInput, version)
	}
	return nil
}

// NewVersion formats t as a version name.
func NewVersion(t time.Time) string {
	return t.UTC().Format("20060102_150405")
}

// Save writes the artifacts as a new immutable version and returns its
// directory. Files are staged in a temp directory that is renamed into
// place, so a version is either complete or absent. The legacy root
// copies are refreshed afterwards.
func (r *Registry) Save(ctx context.Context, version string, artifacts ...Artifact) (string, error) {
	if err := ValidateVersion(version); err != nil {
		return "", err
	}
	if len(artifacts) == 0 {
		return "", fmt.Errorf("%w: nothing to save", domain.ErrInvalidInput)
	}

	final := filepath.Join(r.root, version)
	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrVersionExists, version)
	}

	staged := make([]stagedArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		s, err := r.stage(a, version)
		if err != nil {
			return "", err
		}
		staged = append(staged, s)
	}

	tmp := filepath.Join(r.root, ".tmp-"+version+"-"+uuid.NewString())
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	for _, s := range staged {
		for name, data := range s.files {
			if err := os.WriteFile(filepath.Join(tmp, name), data, 0644); err != nil {
				return "", fmt.Errorf("write %s: %w", name, err)
			}
		}
	}

	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrVersionExists, version)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("commit version %s: %w", version, err)
	}
	committed = true

	for _, s := range staged {
		if err := r.writeLegacy(s); err != nil {
			return final, fmt.Errorf("refresh legacy copies for %s: %w", s.meta.ModelType, err)
		}
		if r.catalog != nil {
			if err := r.catalog.SaveModelVersion(ctx, s.meta); err != nil {
				slog.Warn("failed to record model version",
					"version", version,
					"model_type", s.meta.ModelType,
					"error", err,
				)
			}
		}
	}

	slog.Info("model version saved",
		"version", version,
		"path", final,
		"models", len(staged),
	)
	return final, nil
}

type stagedArtifact struct {
	meta   *domain.ModelMetadata
	files  map[string][]byte
	legacy map[string][]byte
}

// stage encodes every file for one artifact before anything touches disk.
func (r *Registry) stage(a Artifact, version string) (stagedArtifact, error) {
	if a.Model == nil || a.Scaler == nil {
		return stagedArtifact{}, fmt.Errorf("%w: artifact needs a model and a scaler", domain.ErrInvalidInput)
	}
	if err := a.Scaler.Validate(); err != nil {
		return stagedArtifact{}, err
	}
	kind := a.Model.Kind()

	meta := &domain.ModelMetadata{}
	if a.Metadata != nil {
		*meta = *a.Metadata
	}
	meta.ModelType = kind
	meta.Version = version
	if meta.TrainingDate.IsZero() {
		meta.TrainingDate = time.Now().UTC()
	}
	if len(meta.Features) == 0 {
		meta.Features = append([]string(nil), a.Scaler.Features...)
	}

	s := stagedArtifact{
		meta:   meta,
		files:  make(map[string][]byte),
		legacy: make(map[string][]byte),
	}
	for _, codec := range r.codecs {
		data, err := codec.Encode(a.Model)
		if err != nil {
			return stagedArtifact{}, err
		}
		s.files[modelFile(kind, codec)] = data
		s.legacy[modelFile(kind, codec)] = data
	}

	scalerData, err := json.MarshalIndent(a.Scaler, "", "  ")
	if err != nil {
		return stagedArtifact{}, err
	}
	s.files[scalerFile(kind)] = scalerData
	s.legacy[scalerFile(kind)] = scalerData

	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return stagedArtifact{}, err
	}
	s.files[metadataFile(kind)] = metaData
	return s, nil
}

// writeLegacy refreshes the unversioned root copies. The model files
// are written before the scaler.
func (r *Registry) writeLegacy(s stagedArtifact) error {
	kind := s.meta.ModelType
	for _, codec := range r.codecs {
		name := modelFile(kind, codec)
		if err := writeFileAtomic(filepath.Join(r.root, name), s.legacy[name]); err != nil {
			return err
		}
	}
	name := scalerFile(kind)
	return writeFileAtomic(filepath.Join(r.root, name), s.legacy[name])
}

// SetCurrent points the "current" alias at an existing version.
func (r *Registry) SetCurrent(ctx context.Context, version string) error {
	if err := ValidateVersion(version); err != nil {
		return err
	}
	if !dirExists(filepath.Join(r.root, version)) {
		return fmt.Errorf("%w: version %s", domain.ErrNotFound, version)
	}
	if err := r.aliases.SetAlias(ctx, domain.AliasCurrent, version); err != nil {
		return fmt.Errorf("set current alias: %w", err)
	}

	slog.Info("current model version set", "version", version)
	return nil
}

// Current returns the version the "current" alias points to.
func (r *Registry) Current(ctx context.Context) (string, error) {
	return r.aliases.GetAlias(ctx, domain.AliasCurrent)
}

// Versions lists version directories in ascending order.
func (r *Registry) Versions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			versions = append(versions, e.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// List describes every version, newest first. Metadata comes from the
// catalog when one is configured and from the version directories
// otherwise.
func (r *Registry) List(ctx context.Context) ([]VersionInfo, error) {
	current, err := r.Current(ctx)
	if err != nil && !errors.Is(err, domain.ErrAliasNotSet) {
		return nil, err
	}

	byVersion := make(map[string][]*domain.ModelMetadata)
	if r.catalog != nil {
		metas, err := r.catalog.ListModelVersions(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, m := range metas {
			byVersion[m.Version] = append(byVersion[m.Version], m)
		}
	} else {
		versions, err := r.Versions(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			byVersion[v] = nil
			for _, kind := range domain.ModelTypes() {
				meta, err := r.readMetadata(ctx, filepath.Join(r.root, v), kind)
				if err == nil {
					byVersion[v] = append(byVersion[v], meta)
				}
			}
		}
	}

	out := make([]VersionInfo, 0, len(byVersion))
	for v, metas := range byVersion {
		out = append(out, VersionInfo{Version: v, Current: v == current, Models: metas})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// Strategy is one step of the load chain: a location and a codec.
type Strategy struct {
	Name  string
	Dir   string
	Codec anomaly.Codec

	// Versioned locations are immutable and may be cached.
	Versioned bool

	// resolveErr is set when the location could not be resolved.
	resolveErr error
}

// Chain builds the ordered load strategies for a version or "latest":
// the versioned location with each codec, then the legacy root with
// each codec.
func (r *Registry) Chain(ctx context.Context, version string) []Strategy {
	var dir string
	var resolveErr error

	if version == "" || version == domain.VersionLatest {
		current, err := r.Current(ctx)
		if err != nil {
			resolveErr = fmt.Errorf("resolve %s: %w", domain.AliasCurrent, err)
		} else {
			dir = filepath.Join(r.root, current)
		}
	} else if err := ValidateVersion(version); err != nil {
		resolveErr = err
	} else {
		dir = filepath.Join(r.root, version)
	}

	chain := make([]Strategy, 0, 2*len(r.codecs))
	for _, codec := range r.codecs {
		chain = append(chain, Strategy{
			Name:       "version/" + codec.Name(),
			Dir:        dir,
			Codec:      codec,
			Versioned:  true,
			resolveErr: resolveErr,
		})
	}
	for _, codec := range r.codecs {
		chain = append(chain, Strategy{
			Name:  "root/" + codec.Name(),
			Dir:   r.root,
			Codec: codec,
		})
	}
	return chain
}

// Load returns the first bundle any strategy in the chain can produce.
// When every strategy fails the result is a *domain.LoadError listing
// each attempt.
func (r *Registry) Load(ctx context.Context, kind domain.ModelType, version string) (*Bundle, error) {
	if version == "" {
		version = domain.VersionLatest
	}
	ctx, span := tracer.Start(ctx, "registry.load",
		trace.WithAttributes(
			attribute.String("model.type", string(kind)),
			attribute.String("model.version", version),
		),
	)
	defer span.End()

	loadErr := &domain.LoadError{ModelType: kind, Version: version}
	for i, s := range r.Chain(ctx, version) {
		b, err := r.loadFrom(ctx, kind, s)
		r.metrics.RecordLoadAttempt(string(kind), s.Name, err)
		if err != nil {
			loadErr.Attempts = append(loadErr.Attempts, domain.LoadAttempt{Strategy: s.Name, Err: err})
			slog.Debug("load strategy failed",
				"model_type", kind,
				"strategy", s.Name,
				"error", err,
			)
			continue
		}

		if i > 0 {
			slog.Warn("model loaded from fallback",
				"model_type", kind,
				"requested", version,
				"strategy", s.Name,
				"resolved", b.Version,
				"failed_attempts", len(loadErr.Attempts),
			)
		}
		span.SetAttributes(
			attribute.String("model.strategy", s.Name),
			attribute.String("model.resolved_version", b.Version),
		)
		return b, nil
	}

	span.SetStatus(codes.Error, "all load strategies failed")
	return nil, loadErr
}

func (r *Registry) loadFrom(ctx context.Context, kind domain.ModelType, s Strategy) (*Bundle, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}

	data, err := r.read(ctx, filepath.Join(s.Dir, modelFile(kind, s.Codec)), s.Versioned)
	if err != nil {
		return nil, err
	}
	model, err := s.Codec.Decode(data)
	if err != nil {
		return nil, err
	}
	if model.Kind() != kind {
		return nil, fmt.Errorf("%w: artifact holds %s, want %s", domain.ErrSchemaMismatch, model.Kind(), kind)
	}

	scalerData, err := r.read(ctx, filepath.Join(s.Dir, scalerFile(kind)), s.Versioned)
	if err != nil {
		return nil, err
	}
	var scaler features.Scaler
	if err := json.Unmarshal(scalerData, &scaler); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if err := scaler.Validate(); err != nil {
		return nil, err
	}

	// The model must accept rows of the scaler's width.
	if _, err := model.Score(make([]float64, len(scaler.Features))); err != nil {
		return nil, fmt.Errorf("model does not match scaler: %w", err)
	}

	b := &Bundle{
		Model:    model,
		Scaler:   &scaler,
		Version:  domain.VersionUnknown,
		Strategy: s.Name,
	}
	if s.Versioned {
		meta, err := r.readMetadata(ctx, s.Dir, kind)
		switch {
		case err == nil:
			b.Metadata = meta
			b.Version = meta.Version
			if b.Version == "" {
				b.Version = filepath.Base(s.Dir)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			slog.Warn("unreadable model metadata",
				"dir", s.Dir,
				"model_type", kind,
				"error", err,
			)
		}
	}
	return b, nil
}

func (r *Registry) readMetadata(ctx context.Context, dir string, kind domain.ModelType) (*domain.ModelMetadata, error) {
	data, err := r.read(ctx, filepath.Join(dir, metadataFile(kind)), true)
	if err != nil {
		return nil, err
	}
	var meta domain.ModelMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &meta, nil
}

// read returns file bytes, going through the cache for immutable
// version files. Legacy root files are always read from disk.
func (r *Registry) read(ctx context.Context, path string, cacheable bool) ([]byte, error) {
	if !cacheable || r.cache == nil {
		return os.ReadFile(path)
	}

	key := "artifact:" + filepath.ToSlash(path)
	if data, err := r.cache.Get(ctx, key); err == nil && data != nil {
		return data, nil
	} else if err != nil {
		slog.Debug("artifact cache read failed", "key", key, "error", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, data, r.cacheTTL); err != nil {
		slog.Debug("artifact cache write failed", "key", key, "error", err)
	}
	return data, nil
}
