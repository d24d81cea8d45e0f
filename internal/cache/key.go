package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Op names a logical operation. It doubles as the content kind tag on
// cache entries, since each operation produces exactly one record kind.
type Op string

const (
	OpSearch    Op = "search"
	OpMetadata  Op = "metadata"
	OpReleases  Op = "releases"
	OpCrateDocs Op = "crate-docs"
	OpItemDocs  Op = "item-docs"
)

// LatestVersion is the token an absent or empty version normalizes to, so
// "latest" and an omitted version share one entry and one in-flight fetch.
const LatestVersion = "latest"

// Key identifies a logical request. Construct keys through the typed
// helpers below; they normalize parameters so equal logical requests always
// produce equal keys.
type Key struct {
	Op       Op
	Crate    string
	Version  string
	ItemPath string
	Query    string
	Limit    int
}

// SearchKey builds the key for a crate search.
func SearchKey(query string, limit int) Key {
	return Key{Op: OpSearch, Query: query, Limit: limit}
}

// MetadataKey builds the key for a crate metadata lookup.
func MetadataKey(crate, version string) Key {
	return Key{Op: OpMetadata, Crate: normalizeCrate(crate), Version: normalizeVersion(version)}
}

// ReleasesKey builds the key for a recent releases listing.
func ReleasesKey(limit int) Key {
	return Key{Op: OpReleases, Limit: limit}
}

// CrateDocsKey builds the key for crate-level documentation.
func CrateDocsKey(crate, version string) Key {
	return Key{Op: OpCrateDocs, Crate: normalizeCrate(crate), Version: normalizeVersion(version)}
}

// ItemDocsKey builds the key for item-level documentation.
func ItemDocsKey(crate, version, itemPath string) Key {
	return Key{
		Op:       OpItemDocs,
		Crate:    normalizeCrate(crate),
		Version:  normalizeVersion(version),
		ItemPath: itemPath,
	}
}

func normalizeCrate(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func normalizeVersion(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return LatestVersion
	}
	return v
}

// String returns the canonical form of the key. Fields are joined with a
// separator that cannot appear in crate names, so distinct requests never
// produce the same canonical form.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.Op))
	b.WriteByte('|')
	b.WriteString(k.Crate)
	b.WriteByte('|')
	b.WriteString(k.Version)
	b.WriteByte('|')
	b.WriteString(k.ItemPath)
	b.WriteByte('|')
	b.WriteString(k.Query)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(k.Limit))
	return b.String()
}

// Digest returns a stable 64-bit hash of the canonical form, used to
// address disk tier entries across process restarts.
func (k Key) Digest() uint64 {
	return xxhash.Sum64String(k.String())
}

// Filename returns the disk tier file name for this key.
func (k Key) Filename() string {
	return canonicalFilename(k.String())
}

// canonicalFilename maps a canonical key string to its disk file name, so
// the memory tier's string keys can be matched against disk tier files.
func canonicalFilename(ks string) string {
	return fmt.Sprintf("%016x.cache", xxhash.Sum64String(ks))
}
