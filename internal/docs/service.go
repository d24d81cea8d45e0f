// Package docs is the service layer: five logical operations over crates.io
// and docs.rs, each answered from the tiered cache and fetched through the
// resilient client on a miss.
package docs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/cratedocs/proxy/internal/cache"
	"github.com/cratedocs/proxy/internal/config"
	"github.com/cratedocs/proxy/internal/errors"
	"github.com/cratedocs/proxy/internal/fetch"
	"github.com/cratedocs/proxy/internal/logging"
	"github.com/cratedocs/proxy/internal/transform"
)

const maxCrateNameLength = 64

// Fetcher is the upstream access the service needs; *fetch.Client satisfies
// it, tests substitute their own.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Service answers documentation queries. The cache holds transformed
// records, so a hit never re-parses upstream payloads.
type Service struct {
	cache     *cache.Tiered
	client    Fetcher
	upstreams config.UpstreamsConfig
	limits    config.LimitsConfig
}

// NewService wires the service from its parts.
func NewService(tc *cache.Tiered, client Fetcher, upstreams config.UpstreamsConfig, limits config.LimitsConfig) *Service {
	return &Service{
		cache:     tc,
		client:    client,
		upstreams: upstreams,
		limits:    limits,
	}
}

// Cache exposes the tiered cache for the admin surface.
func (s *Service) Cache() *cache.Tiered { return s.cache }

// Search finds crates matching query. limit <= 0 takes the configured
// default; larger values clamp to the configured max.
func (s *Service) Search(ctx context.Context, query string, limit int) (*transform.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New(errors.KindInvalidRequest, "search query must not be empty")
	}
	limit = clampLimit(limit, s.limits.SearchDefault, s.limits.SearchMax)

	key := cache.SearchKey(query, limit)
	var result transform.SearchResult
	err := s.load(ctx, key, func(ctx context.Context) ([]byte, error) {
		u := fmt.Sprintf("%s/api/v1/crates?q=%s&per_page=%d",
			s.registryBase(), url.QueryEscape(query), limit)
		resp, err := s.client.Fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		result, err := transform.Search(resp.Body, s.docsBase())
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Metadata returns the full metadata record for one crate version. An empty
// version means the newest published one.
func (s *Service) Metadata(ctx context.Context, crate, version string) (*transform.CrateMetadata, error) {
	if err := validateCrateName(crate); err != nil {
		return nil, err
	}

	key := cache.MetadataKey(crate, version)
	var meta transform.CrateMetadata
	err := s.load(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := s.client.Fetch(ctx, fmt.Sprintf("%s/api/v1/crates/%s", s.registryBase(), key.Crate))
		if err != nil {
			return nil, err
		}
		meta, err := transform.Metadata(resp.Body, key.Version, s.docsBase())
		if err != nil {
			return nil, err
		}

		// dependencies live on a second endpoint; losing them degrades the
		// record but does not fail the lookup
		depsURL := fmt.Sprintf("%s/api/v1/crates/%s/%s/dependencies", s.registryBase(), meta.Name, meta.Version)
		if depsResp, err := s.client.Fetch(ctx, depsURL); err == nil {
			normal, dev, build, perr := transform.Dependencies(depsResp.Body)
			if perr == nil {
				meta.Dependencies = normal
				meta.DevDependencies = dev
				meta.BuildDependencies = build
			} else {
				logging.Warn("dependency listing unparsable", zap.String("crate", meta.Name), zap.Error(perr))
			}
		} else {
			logging.Warn("dependency listing unavailable", zap.String("crate", meta.Name), zap.Error(err))
		}

		return json.Marshal(meta)
	}, &meta)
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// RecentReleases lists recently updated and newly published crates.
func (s *Service) RecentReleases(ctx context.Context, limit int) ([]transform.CrateRelease, error) {
	limit = clampLimit(limit, s.limits.ReleasesDefault, s.limits.ReleasesMax)

	key := cache.ReleasesKey(limit)
	var releases []transform.CrateRelease
	err := s.load(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := s.client.Fetch(ctx, s.registryBase()+"/api/v1/summary")
		if err != nil {
			return nil, err
		}
		releases, err := transform.Releases(resp.Body, limit, s.docsBase())
		if err != nil {
			return nil, err
		}
		return json.Marshal(releases)
	}, &releases)
	if err != nil {
		return nil, err
	}
	return releases, nil
}

// CrateDocs returns the parsed crate-root documentation page.
func (s *Service) CrateDocs(ctx context.Context, crate, version string) (*transform.DocItem, error) {
	if err := validateCrateName(crate); err != nil {
		return nil, err
	}

	key := cache.CrateDocsKey(crate, version)
	var item transform.DocItem
	err := s.load(ctx, key, func(ctx context.Context) ([]byte, error) {
		pageURL := transform.DocsURL(s.docsBase(), key.Crate, key.Version)
		resp, err := s.client.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		item, err := transform.ParseCrateDocs(resp.Body, key.Crate, key.Version, pageURL)
		if err != nil {
			return nil, err
		}
		return json.Marshal(item)
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ItemDocs returns the parsed documentation page of a single item, addressed
// by its rustdoc path ("sync/struct.Mutex.html").
func (s *Service) ItemDocs(ctx context.Context, crate, version, itemPath string) (*transform.DocItem, error) {
	if err := validateCrateName(crate); err != nil {
		return nil, err
	}
	itemPath = strings.Trim(strings.TrimSpace(itemPath), "/")
	if itemPath == "" {
		return nil, errors.New(errors.KindInvalidRequest, "item path must not be empty")
	}
	if strings.Contains(itemPath, "..") {
		return nil, errors.New(errors.KindInvalidRequest, "item path must not traverse directories").WithTarget(itemPath)
	}

	key := cache.ItemDocsKey(crate, version, itemPath)
	var item transform.DocItem
	err := s.load(ctx, key, func(ctx context.Context) ([]byte, error) {
		pageURL := transform.DocsURL(s.docsBase(), key.Crate, key.Version) + key.ItemPath
		resp, err := s.client.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		item, err := transform.ParseItemDocs(resp.Body, key.Crate, key.ItemPath, key.Version, pageURL)
		if err != nil {
			return nil, err
		}
		return json.Marshal(item)
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Service) registryBase() string {
	return strings.TrimRight(s.upstreams.RegistryURL, "/")
}

func (s *Service) docsBase() string {
	return strings.TrimRight(s.upstreams.DocsURL, "/")
}

// loadAttempts bounds the recovery loop in load. A corrupt copy can be
// read at most twice (once from disk, once from its async promotion into
// memory) before both tiers are clean, so two recoveries always suffice.
const loadAttempts = 3

// load resolves key through the cache and decodes the payload into v. The
// cache only ever stores what the service marshalled, so a decode failure
// means the stored bytes went bad; the entry is dropped from both tiers and
// fetched fresh instead of surfacing the corruption to the caller.
func (s *Service) load(ctx context.Context, key cache.Key, fn cache.FetchFunc, v any) error {
	var lastErr error
	for i := 0; i < loadAttempts; i++ {
		payload, err := s.cache.GetOrFetch(ctx, key, fn)
		if err != nil {
			return err
		}
		uerr := json.Unmarshal(payload, v)
		if uerr == nil {
			return nil
		}
		lastErr = uerr
		logging.Warn("dropping unreadable cached record",
			zap.String("key", key.String()),
			zap.Error(uerr),
		)
		s.cache.Invalidate(key)
	}
	return errors.Wrap(errors.KindCacheCorruption, "record unreadable after refetch", lastErr).
		WithTarget(key.String())
}

func clampLimit(limit, def, max int) int {
	switch {
	case limit <= 0:
		return def
	case limit > max:
		return max
	default:
		return limit
	}
}

// validateCrateName rejects names crates.io could never know, before any
// network traffic happens.
func validateCrateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New(errors.KindInvalidRequest, "crate name must not be empty")
	}
	if len(name) > maxCrateNameLength {
		return errors.Newf(errors.KindInvalidRequest, "crate name longer than %d characters", maxCrateNameLength).
			WithTarget(name[:maxCrateNameLength] + "…")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return errors.Newf(errors.KindInvalidRequest, "crate name contains invalid character %q", r).WithTarget(name)
		}
	}
	return nil
}
