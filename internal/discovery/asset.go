package discovery

import (
	"strings"

	"github.com/zero-day-ai/aegis/internal/types"
)

// AssetKind classifies the shape of a discovered asset so capabilities can
// pick asset-appropriate parameters (e.g. a narrower wordlist for an API).
type AssetKind string

const (
	AssetKindWeb AssetKind = "web"
	AssetKindAPI AssetKind = "api"
	AssetKindDNS AssetKind = "dns"
)

// String returns the string representation of AssetKind
func (k AssetKind) String() string {
	return string(k)
}

// Asset is a testable surface discovered during workflow execution, such as a
// sub-target or endpoint enumerated by an earlier phase.
type Asset struct {
	// Identifier is the asset address (URL, hostname, endpoint path).
	Identifier string `json:"identifier"`

	// Kind classifies the asset shape.
	Kind AssetKind `json:"kind"`
}

// ClassifyAsset infers an asset kind from its identifier.
func ClassifyAsset(identifier string) Asset {
	lower := strings.ToLower(identifier)

	kind := AssetKindWeb
	switch {
	case strings.Contains(lower, "/api") || strings.Contains(lower, "api.") ||
		strings.Contains(lower, "/graphql") || strings.Contains(lower, "/v1/") ||
		strings.Contains(lower, "/v2/"):
		kind = AssetKindAPI
	case strings.HasPrefix(lower, "ns") || strings.Contains(lower, "_dmarc") ||
		strings.Contains(lower, "mx."):
		kind = AssetKindDNS
	}

	return Asset{Identifier: identifier, Kind: kind}
}

// AssetsFromFindings extracts the deduplicated set of assets enumerated by a
// batch of findings, preserving first-seen order.
func AssetsFromFindings(findings []types.Finding) []Asset {
	seen := make(map[string]bool)
	var assets []Asset

	for _, f := range findings {
		for _, id := range f.Assets {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			assets = append(assets, ClassifyAsset(id))
		}
	}

	return assets
}
