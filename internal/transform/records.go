// Package transform turns raw upstream responses into domain records:
// crates.io JSON via typed structs, docs.rs HTML via goquery. Anything the
// upstream sends that does not decode is a ParseFailure, never retried.
package transform

import "time"

// CrateSummary is one row of a search result.
type CrateSummary struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	Downloads   uint64    `json:"downloads"`
	DocsURL     string    `json:"docs_url"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// SearchResult is the transformed search response.
type SearchResult struct {
	Crates []CrateSummary `json:"crates"`
	Total  int            `json:"total"`
}

// Dependency is one requirement of a crate version.
type Dependency struct {
	Name            string   `json:"name"`
	VersionReq      string   `json:"version_req"`
	Features        []string `json:"features,omitempty"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          string   `json:"target,omitempty"`
}

// VersionInfo is one published version of a crate.
type VersionInfo struct {
	Num       string    `json:"num"`
	CreatedAt time.Time `json:"created_at"`
	Yanked    bool      `json:"yanked"`
	Downloads uint64    `json:"downloads"`
	License   string    `json:"license,omitempty"`
}

// CrateMetadata is the full metadata record for a crate.
type CrateMetadata struct {
	Name              string        `json:"name"`
	Version           string        `json:"version"`
	Description       string        `json:"description,omitempty"`
	License           string        `json:"license,omitempty"`
	Repository        string        `json:"repository,omitempty"`
	Homepage          string        `json:"homepage,omitempty"`
	Documentation     string        `json:"documentation"`
	Downloads         uint64        `json:"downloads"`
	RecentDownloads   uint64        `json:"recent_downloads"`
	MaxVersion        string        `json:"max_version"`
	Versions          []VersionInfo `json:"versions"`
	Dependencies      []Dependency  `json:"dependencies,omitempty"`
	DevDependencies   []Dependency  `json:"dev_dependencies,omitempty"`
	BuildDependencies []Dependency  `json:"build_dependencies,omitempty"`
	Keywords          []string      `json:"keywords,omitempty"`
	Categories        []string      `json:"categories,omitempty"`
	CreatedAt         time.Time     `json:"created_at,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at,omitempty"`
}

// CrateRelease is one recently updated or newly published crate.
type CrateRelease struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	Downloads   uint64    `json:"downloads"`
	UpdatedAt   time.Time `json:"updated_at"`
	DocsURL     string    `json:"docs_url"`
	New         bool      `json:"new,omitempty"`
}

// ItemKind classifies a rustdoc item.
type ItemKind string

const (
	KindModule    ItemKind = "module"
	KindStruct    ItemKind = "struct"
	KindEnum      ItemKind = "enum"
	KindTrait     ItemKind = "trait"
	KindFunction  ItemKind = "fn"
	KindMacro     ItemKind = "macro"
	KindConstant  ItemKind = "constant"
	KindTypeAlias ItemKind = "type"
	KindUnion     ItemKind = "union"
)

// ModuleRef is one entry of a crate root's item listing.
type ModuleRef struct {
	Name    string   `json:"name"`
	Kind    ItemKind `json:"kind"`
	Href    string   `json:"href"`
	Summary string   `json:"summary,omitempty"`
}

// CodeExample is a rust snippet lifted from a docblock.
type CodeExample struct {
	Code     string `json:"code"`
	Runnable bool   `json:"runnable"`
}

// DocItem is a parsed documentation page: the crate root or a single item.
type DocItem struct {
	Crate       string        `json:"crate"`
	Version     string        `json:"version"`
	Path        string        `json:"path,omitempty"`
	Kind        ItemKind      `json:"kind"`
	Name        string        `json:"name"`
	Signature   string        `json:"signature,omitempty"`
	Description string        `json:"description,omitempty"`
	SourceURL   string        `json:"source_url"`
	Modules     []ModuleRef   `json:"modules,omitempty"`
	Examples    []CodeExample `json:"examples,omitempty"`
}
