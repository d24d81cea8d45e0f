package transform

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cratedocs/proxy/internal/errors"
)

// maxExamples bounds how many docblock snippets one DocItem carries.
const maxExamples = 8

// rustdoc path markers, one per item kind.
var itemKindMarkers = []struct {
	marker string
	kind   ItemKind
}{
	{"struct.", KindStruct},
	{"enum.", KindEnum},
	{"trait.", KindTrait},
	{"fn.", KindFunction},
	{"macro.", KindMacro},
	{"derive.", KindMacro},
	{"constant.", KindConstant},
	{"type.", KindTypeAlias},
	{"union.", KindUnion},
}

// ParseCrateDocs turns a docs.rs crate-root page into a DocItem carrying the
// crate description, the item listing and top-level code examples.
func ParseCrateDocs(html []byte, crate, version, pageURL string) (*DocItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(errors.KindParseFailure, "parsing docs.rs crate page", err).WithTarget(pageURL)
	}
	if doc.Find("#main-content, .rustdoc").Length() == 0 {
		return nil, errors.New(errors.KindParseFailure, "response is not a rustdoc page").WithTarget(pageURL)
	}

	item := &DocItem{
		Crate:       crate,
		Version:     resolveVersion(doc, version),
		Kind:        KindModule,
		Name:        CrateIdent(crate),
		Description: firstText(doc, ".top-doc .docblock p", ".docblock p"),
		SourceURL:   pageURL,
		Modules:     itemListing(doc),
		Examples:    codeExamples(doc),
	}
	return item, nil
}

// ParseItemDocs turns a docs.rs item page into a DocItem.
func ParseItemDocs(html []byte, crate, itemPath, version, pageURL string) (*DocItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(errors.KindParseFailure, "parsing docs.rs item page", err).WithTarget(pageURL)
	}
	if doc.Find("#main-content, .rustdoc").Length() == 0 {
		return nil, errors.New(errors.KindParseFailure, "response is not a rustdoc page").WithTarget(pageURL)
	}

	item := &DocItem{
		Crate:       crate,
		Version:     resolveVersion(doc, version),
		Path:        itemPath,
		Kind:        inferKind(itemPath),
		Name:        itemName(doc, itemPath),
		Signature:   firstText(doc, ".item-decl pre.rust", "pre.rust.item-decl", ".docblock.item-decl"),
		Description: firstText(doc, ".top-doc .docblock p", ".docblock:not(.item-decl) p"),
		SourceURL:   pageURL,
		Examples:    codeExamples(doc),
	}
	return item, nil
}

// resolveVersion prefers the requested version; rustdoc pages for "latest"
// carry the concrete number in the version header.
func resolveVersion(doc *goquery.Document, requested string) string {
	if requested != "" && requested != "latest" {
		return requested
	}
	if v := firstText(doc, ".version", ".crate-version", "h1 .version", "nav .version"); v != "" {
		return strings.TrimPrefix(v, "v")
	}
	if requested == "" {
		return "latest"
	}
	return requested
}

// itemName pulls the item identifier out of the page heading, falling back to
// the last path segment.
func itemName(doc *goquery.Document, itemPath string) string {
	heading := firstText(doc, ".main-heading h1", "h1.fqn", "h1")
	heading = strings.TrimSpace(strings.TrimSuffix(heading, "Copy item path"))
	if heading != "" {
		// "Struct serde::Serializer" -> "Serializer"
		if i := strings.LastIndex(heading, "::"); i >= 0 {
			heading = heading[i+2:]
		}
		if fields := strings.Fields(heading); len(fields) > 0 {
			return fields[len(fields)-1]
		}
	}

	seg := itemPath
	if i := strings.LastIndexByte(seg, '/'); i >= 0 {
		seg = seg[i+1:]
	}
	seg = strings.TrimSuffix(seg, ".html")
	if i := strings.IndexByte(seg, '.'); i >= 0 {
		seg = seg[i+1:]
	}
	return seg
}

// inferKind maps a rustdoc path to the item kind it documents.
func inferKind(path string) ItemKind {
	for _, m := range itemKindMarkers {
		if strings.Contains(path, m.marker) {
			return m.kind
		}
	}
	return KindModule
}

// itemListing walks the crate root's item tables and collects one ModuleRef
// per linked API item, summary attached when the table carries one.
func itemListing(doc *goquery.Document) []ModuleRef {
	var refs []ModuleRef
	seen := make(map[string]struct{})

	doc.Find(".item-table dt a[href], ul.item-table li .item-name a[href]").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || !isAPIItemHref(href) {
			return
		}
		name := cleanName(a.Text())
		if name == "" {
			return
		}
		dedup := name + "|" + href
		if _, dup := seen[dedup]; dup {
			return
		}
		seen[dedup] = struct{}{}

		ref := ModuleRef{Name: name, Kind: inferKind(href), Href: href}
		// rustdoc pairs each dt with a dd (or .desc sibling) holding the
		// one-line summary
		if dd := a.Closest("dt").Next(); dd.Is("dd") {
			ref.Summary = strings.TrimSpace(dd.Text())
		} else if desc := a.Closest(".item-name").Siblings().Filter(".desc"); desc.Length() > 0 {
			ref.Summary = strings.TrimSpace(desc.First().Text())
		}
		refs = append(refs, ref)
	})

	// sidebar covers modules the item table misses on older page layouts
	doc.Find(".sidebar .block a[href], .sidebar-elems section a[href]").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || !isAPIItemHref(href) {
			return
		}
		name := cleanName(a.Text())
		if name == "" {
			return
		}
		dedup := name + "|" + href
		if _, dup := seen[dedup]; dup {
			return
		}
		seen[dedup] = struct{}{}
		refs = append(refs, ModuleRef{Name: name, Kind: inferKind(href), Href: href})
	})

	return refs
}

// isAPIItemHref reports whether href points at an item page rather than an
// external link, anchor or parent directory.
func isAPIItemHref(href string) bool {
	if strings.HasPrefix(href, "http") || strings.HasPrefix(href, "//") || strings.HasPrefix(href, "#") {
		return false
	}
	for _, m := range itemKindMarkers {
		if strings.Contains(href, m.marker) && strings.HasSuffix(href, ".html") {
			return true
		}
	}
	return strings.HasSuffix(href, "/index.html") && !strings.HasPrefix(href, "../")
}

// cleanName strips the zero-width break characters rustdoc injects into long
// identifiers and drops any module prefix.
func cleanName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\u200b", "")
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	return name
}

func codeExamples(doc *goquery.Document) []CodeExample {
	var examples []CodeExample
	doc.Find(".docblock pre.rust, .example-wrap pre.rust").EachWithBreak(func(_ int, pre *goquery.Selection) bool {
		code := strings.TrimSpace(pre.Text())
		if code == "" {
			return true
		}
		examples = append(examples, CodeExample{
			Code:     code,
			Runnable: pre.Closest(".example-wrap").Length() > 0,
		})
		return len(examples) < maxExamples
	})
	return examples
}

// firstText returns the trimmed text of the first selector with a non-empty
// match.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
