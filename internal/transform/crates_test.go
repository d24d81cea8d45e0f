package transform

import (
	"testing"
	"time"

	"github.com/cratedocs/proxy/internal/errors"
)

const docsBase = "https://docs.rs"

const searchFixture = `{
  "crates": [
    {
      "id": "serde",
      "name": "serde",
      "newest_version": "1.0.219",
      "max_version": "1.0.219",
      "description": "A generic serialization/deserialization framework",
      "downloads": 123456789,
      "recent_downloads": 1000000,
      "updated_at": "2025-03-01T00:00:00Z",
      "created_at": "2015-01-01T00:00:00Z"
    },
    {
      "id": "serde_json",
      "name": "serde_json",
      "newest_version": "1.0.140",
      "max_version": "1.0.140",
      "description": "A JSON serialization file format",
      "downloads": 98765432,
      "updated_at": "2025-02-01T00:00:00Z"
    }
  ],
  "meta": { "total": 2341 }
}`

func TestSearchTransform(t *testing.T) {
	result, err := Search([]byte(searchFixture), docsBase)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if result.Total != 2341 {
		t.Errorf("total = %d, want 2341", result.Total)
	}
	if len(result.Crates) != 2 {
		t.Fatalf("got %d crates, want 2", len(result.Crates))
	}

	first := result.Crates[0]
	if first.Name != "serde" || first.Version != "1.0.219" {
		t.Errorf("unexpected first crate: %+v", first)
	}
	if first.Downloads != 123456789 {
		t.Errorf("downloads = %d", first.Downloads)
	}
	if first.DocsURL != "https://docs.rs/serde/latest/serde/" {
		t.Errorf("docs url = %s", first.DocsURL)
	}
	if first.UpdatedAt.Year() != 2025 {
		t.Errorf("updated_at not parsed: %v", first.UpdatedAt)
	}
}

func TestSearchTransformMalformed(t *testing.T) {
	_, err := Search([]byte(`{"crates": "nope"}`), docsBase)
	if errors.KindOf(err) != errors.KindParseFailure {
		t.Fatalf("expected ParseFailure, got %v", err)
	}
}

func TestSearchTransformEmpty(t *testing.T) {
	result, err := Search([]byte(`{"crates":[],"meta":{"total":0}}`), docsBase)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Crates) != 0 || result.Total != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

const metadataFixture = `{
  "crate": {
    "id": "tokio",
    "name": "tokio",
    "description": "An event-driven, non-blocking I/O platform",
    "repository": "https://github.com/tokio-rs/tokio",
    "homepage": "https://tokio.rs",
    "downloads": 250000000,
    "recent_downloads": 40000000,
    "max_version": "1.45.0",
    "keywords": ["io", "async", "non-blocking"],
    "categories": ["asynchronous", "network-programming"],
    "created_at": "2016-08-26T00:00:00Z",
    "updated_at": "2025-05-01T00:00:00Z"
  },
  "versions": [
    {
      "num": "1.45.0",
      "yanked": false,
      "downloads": 5000000,
      "license": "MIT",
      "created_at": "2025-05-01T00:00:00Z"
    },
    {
      "num": "1.44.0",
      "yanked": false,
      "downloads": 9000000,
      "license": "MIT",
      "created_at": "2025-03-01T00:00:00Z"
    },
    {
      "num": "0.1.0",
      "yanked": true,
      "downloads": 100,
      "license": "MIT",
      "created_at": "2016-08-26T00:00:00Z"
    }
  ]
}`

func TestMetadataTransformLatest(t *testing.T) {
	meta, err := Metadata([]byte(metadataFixture), "latest", docsBase)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}

	if meta.Name != "tokio" || meta.Version != "1.45.0" {
		t.Errorf("latest should resolve to max_version: %+v", meta)
	}
	if meta.License != "MIT" {
		t.Errorf("license = %q", meta.License)
	}
	if meta.Repository != "https://github.com/tokio-rs/tokio" {
		t.Errorf("repository = %q", meta.Repository)
	}
	if len(meta.Versions) != 3 {
		t.Errorf("got %d versions", len(meta.Versions))
	}
	if !meta.Versions[2].Yanked {
		t.Error("yanked flag lost")
	}
	if meta.Documentation != "https://docs.rs/tokio/latest/tokio/" {
		t.Errorf("documentation fallback = %q", meta.Documentation)
	}
	if meta.RecentDownloads != 40000000 {
		t.Errorf("recent downloads = %d", meta.RecentDownloads)
	}
}

func TestMetadataTransformPinnedVersion(t *testing.T) {
	meta, err := Metadata([]byte(metadataFixture), "1.44.0", docsBase)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Version != "1.44.0" {
		t.Errorf("version = %s", meta.Version)
	}
}

func TestMetadataTransformUnknownVersion(t *testing.T) {
	_, err := Metadata([]byte(metadataFixture), "9.9.9", docsBase)
	if errors.KindOf(err) != errors.KindNotFound {
		t.Fatalf("unknown version should be NotFound, got %v", err)
	}
}

func TestMetadataTransformMalformed(t *testing.T) {
	_, err := Metadata([]byte(`<html>not json</html>`), "latest", docsBase)
	if errors.KindOf(err) != errors.KindParseFailure {
		t.Fatalf("expected ParseFailure, got %v", err)
	}
}

const dependenciesFixture = `{
  "dependencies": [
    {"crate_id": "bytes", "req": "^1.0", "optional": false, "default_features": true, "features": [], "target": null, "kind": "normal"},
    {"crate_id": "libc", "req": "^0.2", "optional": true, "default_features": true, "features": [], "target": "cfg(unix)", "kind": "normal"},
    {"crate_id": "tokio-test", "req": "^0.4", "optional": false, "default_features": true, "features": [], "target": null, "kind": "dev"},
    {"crate_id": "autocfg", "req": "^1", "optional": false, "default_features": true, "features": [], "target": null, "kind": "build"}
  ]
}`

func TestDependenciesSplitByKind(t *testing.T) {
	normal, dev, build, err := Dependencies([]byte(dependenciesFixture))
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(normal) != 2 || len(dev) != 1 || len(build) != 1 {
		t.Fatalf("split = %d/%d/%d, want 2/1/1", len(normal), len(dev), len(build))
	}
	if normal[1].Target != "cfg(unix)" {
		t.Errorf("target = %q", normal[1].Target)
	}
	if !normal[1].Optional {
		t.Error("optional flag lost")
	}
	if dev[0].Name != "tokio-test" {
		t.Errorf("dev dep = %q", dev[0].Name)
	}
}

const summaryFixture = `{
  "just_updated": [
    {"id": "serde", "name": "serde", "newest_version": "1.0.219", "description": "serialization", "downloads": 1000, "updated_at": "2025-06-01T10:00:00Z"},
    {"id": "rand", "name": "rand", "newest_version": "0.9.1", "description": "random numbers", "downloads": 900, "updated_at": "2025-06-01T09:00:00Z"}
  ],
  "new_crates": [
    {"id": "shiny-new", "name": "shiny-new", "newest_version": "0.1.0", "description": "brand new", "downloads": 3, "updated_at": "2025-06-01T08:00:00Z"},
    {"id": "serde", "name": "serde", "newest_version": "1.0.219", "downloads": 1000, "updated_at": "2025-06-01T10:00:00Z"}
  ]
}`

func TestReleasesTransform(t *testing.T) {
	releases, err := Releases([]byte(summaryFixture), 10, docsBase)
	if err != nil {
		t.Fatalf("Releases: %v", err)
	}

	// serde appears in both lists and must not be duplicated
	if len(releases) != 3 {
		t.Fatalf("got %d releases, want 3", len(releases))
	}
	if releases[0].Name != "serde" || releases[0].New {
		t.Errorf("unexpected first release: %+v", releases[0])
	}
	if releases[2].Name != "shiny-new" || !releases[2].New {
		t.Errorf("new crate not flagged: %+v", releases[2])
	}
	if releases[2].DocsURL != "https://docs.rs/shiny-new/0.1.0/shiny_new/" {
		t.Errorf("docs url = %s", releases[2].DocsURL)
	}
	if releases[0].UpdatedAt != time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) {
		t.Errorf("updated_at = %v", releases[0].UpdatedAt)
	}
}

func TestReleasesTransformLimit(t *testing.T) {
	releases, err := Releases([]byte(summaryFixture), 1, docsBase)
	if err != nil {
		t.Fatalf("Releases: %v", err)
	}
	if len(releases) != 1 {
		t.Fatalf("limit not applied: %d", len(releases))
	}
}

func TestReleasesTransformMalformed(t *testing.T) {
	_, err := Releases([]byte(`[]`), 10, docsBase)
	if errors.KindOf(err) != errors.KindParseFailure {
		t.Fatalf("expected ParseFailure, got %v", err)
	}
}

func TestDocsURLHyphenatedCrate(t *testing.T) {
	got := DocsURL("https://docs.rs/", "tracing-subscriber", "0.3.19")
	want := "https://docs.rs/tracing-subscriber/0.3.19/tracing_subscriber/"
	if got != want {
		t.Errorf("DocsURL = %s, want %s", got, want)
	}
}
