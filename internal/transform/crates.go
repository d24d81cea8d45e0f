package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cratedocs/proxy/internal/errors"
)

// crateJSON is the crate object shape shared by the search, summary and
// per-crate endpoints. Fields crates.io sends that we never read are left out;
// encoding/json skips them.
type crateJSON struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	NewestVersion   string    `json:"newest_version"`
	MaxVersion      string    `json:"max_version"`
	Description     string    `json:"description"`
	Downloads       uint64    `json:"downloads"`
	RecentDownloads uint64    `json:"recent_downloads"`
	Repository      string    `json:"repository"`
	Homepage        string    `json:"homepage"`
	Documentation   string    `json:"documentation"`
	Keywords        []string  `json:"keywords"`
	Categories      []string  `json:"categories"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type versionJSON struct {
	Num       string    `json:"num"`
	Yanked    bool      `json:"yanked"`
	Downloads uint64    `json:"downloads"`
	License   string    `json:"license"`
	CreatedAt time.Time `json:"created_at"`
}

type dependencyJSON struct {
	CrateID         string   `json:"crate_id"`
	Req             string   `json:"req"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Features        []string `json:"features"`
	Target          *string  `json:"target"`
	Kind            string   `json:"kind"`
}

type searchResponseJSON struct {
	Crates []crateJSON `json:"crates"`
	Meta   struct {
		Total int `json:"total"`
	} `json:"meta"`
}

type metadataResponseJSON struct {
	Crate    crateJSON     `json:"crate"`
	Versions []versionJSON `json:"versions"`
}

type dependenciesResponseJSON struct {
	Dependencies []dependencyJSON `json:"dependencies"`
}

type summaryResponseJSON struct {
	JustUpdated []crateJSON `json:"just_updated"`
	NewCrates   []crateJSON `json:"new_crates"`
}

// DocsURL builds the canonical docs.rs page for a crate version. The path
// ident replaces hyphens with underscores the way rustdoc names the root
// module.
func DocsURL(base, crate, version string) string {
	return fmt.Sprintf("%s/%s/%s/%s/", strings.TrimRight(base, "/"), crate, version, CrateIdent(crate))
}

// CrateIdent is the rustdoc module name of a crate.
func CrateIdent(crate string) string {
	return strings.ReplaceAll(crate, "-", "_")
}

func parseError(what string, err error) error {
	return errors.Wrap(errors.KindParseFailure, "decoding "+what, err)
}

// Search decodes a crates.io search response.
func Search(body []byte, docsBase string) (*SearchResult, error) {
	var raw searchResponseJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, parseError("crates.io search response", err)
	}

	out := &SearchResult{
		Crates: make([]CrateSummary, 0, len(raw.Crates)),
		Total:  raw.Meta.Total,
	}
	for _, c := range raw.Crates {
		if c.Name == "" {
			return nil, errors.New(errors.KindParseFailure, "search result crate without a name")
		}
		version := c.NewestVersion
		if version == "" {
			version = c.MaxVersion
		}
		out.Crates = append(out.Crates, CrateSummary{
			Name:        c.Name,
			Version:     version,
			Description: c.Description,
			Downloads:   c.Downloads,
			DocsURL:     DocsURL(docsBase, c.Name, "latest"),
			UpdatedAt:   c.UpdatedAt,
		})
	}
	return out, nil
}

// Metadata decodes a crates.io per-crate response. requestedVersion selects
// which published version the record describes; empty or "latest" resolves to
// max_version. An unknown version is NotFound: crates.io answered, the
// version just does not exist.
func Metadata(body []byte, requestedVersion, docsBase string) (*CrateMetadata, error) {
	var raw metadataResponseJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, parseError("crates.io metadata response", err)
	}
	if raw.Crate.Name == "" {
		return nil, errors.New(errors.KindParseFailure, "metadata response without a crate name")
	}

	version := requestedVersion
	if version == "" || version == "latest" {
		version = raw.Crate.MaxVersion
	}

	found := false
	versions := make([]VersionInfo, 0, len(raw.Versions))
	for _, v := range raw.Versions {
		if v.Num == version {
			found = true
		}
		versions = append(versions, VersionInfo{
			Num:       v.Num,
			CreatedAt: v.CreatedAt,
			Yanked:    v.Yanked,
			Downloads: v.Downloads,
			License:   v.License,
		})
	}
	if !found {
		return nil, errors.Newf(errors.KindNotFound,
			"version %s not published for crate %s", version, raw.Crate.Name).
			WithTarget(raw.Crate.Name + "@" + version)
	}

	documentation := raw.Crate.Documentation
	if documentation == "" {
		documentation = DocsURL(docsBase, raw.Crate.Name, "latest")
	}

	return &CrateMetadata{
		Name:            raw.Crate.Name,
		Version:         version,
		Description:     raw.Crate.Description,
		Repository:      raw.Crate.Repository,
		Homepage:        raw.Crate.Homepage,
		Documentation:   documentation,
		Downloads:       raw.Crate.Downloads,
		RecentDownloads: raw.Crate.RecentDownloads,
		MaxVersion:      raw.Crate.MaxVersion,
		Versions:        versions,
		License:         licenseFor(versions, version),
		Keywords:        raw.Crate.Keywords,
		Categories:      raw.Crate.Categories,
		CreatedAt:       raw.Crate.CreatedAt,
		UpdatedAt:       raw.Crate.UpdatedAt,
	}, nil
}

func licenseFor(versions []VersionInfo, num string) string {
	for _, v := range versions {
		if v.Num == num {
			return v.License
		}
	}
	return ""
}

// Dependencies decodes the per-version dependencies endpoint and splits the
// requirements by kind.
func Dependencies(body []byte) (normal, dev, build []Dependency, err error) {
	var raw dependenciesResponseJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, nil, parseError("crates.io dependencies response", err)
	}

	for _, d := range raw.Dependencies {
		dep := Dependency{
			Name:            d.CrateID,
			VersionReq:      d.Req,
			Features:        d.Features,
			Optional:        d.Optional,
			DefaultFeatures: d.DefaultFeatures,
		}
		if d.Target != nil {
			dep.Target = *d.Target
		}
		switch d.Kind {
		case "dev":
			dev = append(dev, dep)
		case "build":
			build = append(build, dep)
		default:
			normal = append(normal, dep)
		}
	}
	return normal, dev, build, nil
}

// Releases decodes the crates.io summary endpoint into recent releases:
// just-updated crates first, then newly published ones, truncated to limit.
func Releases(body []byte, limit int, docsBase string) ([]CrateRelease, error) {
	var raw summaryResponseJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, parseError("crates.io summary response", err)
	}

	releases := make([]CrateRelease, 0, len(raw.JustUpdated)+len(raw.NewCrates))
	seen := make(map[string]struct{})

	add := func(crates []crateJSON, isNew bool) {
		for _, c := range crates {
			if c.Name == "" {
				continue
			}
			if _, dup := seen[c.Name]; dup {
				continue
			}
			seen[c.Name] = struct{}{}
			version := c.NewestVersion
			if version == "" {
				version = c.MaxVersion
			}
			releases = append(releases, CrateRelease{
				Name:        c.Name,
				Version:     version,
				Description: c.Description,
				Downloads:   c.Downloads,
				UpdatedAt:   c.UpdatedAt,
				DocsURL:     DocsURL(docsBase, c.Name, version),
				New:         isNew,
			})
		}
	}
	add(raw.JustUpdated, false)
	add(raw.NewCrates, true)

	if limit > 0 && len(releases) > limit {
		releases = releases[:limit]
	}
	return releases, nil
}
