package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "reposcrape"

// maxValueLen is the longest parameter value stored verbatim in a key.
// Longer values (batched queries run to several kilobytes) are hashed.
const maxValueLen = 64

// CredentialParams lists query parameters that are never part of a key.
var CredentialParams = map[string]bool{
	"access_token":  true,
	"client_id":     true,
	"client_secret": true,
}

// CacheKey identifies one cached response.
type CacheKey struct {
	// Endpoint is the request path (e.g. "/search/code").
	Endpoint string

	// QueryParams are the request parameters. Credential parameters are ignored.
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: reposcrape:endpoint:param1=val1:param2=val2
//
// Example:
//
//	reposcrape:search/code:page=2:q=sha256-3f1c...:sort=indexed
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			if CredentialParams[key] {
				continue
			}
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, compact(k.QueryParams.Get(key))))
		}
	}

	return strings.Join(parts, ":")
}

func compact(v string) string {
	if len(v) <= maxValueLen {
		return v
	}
	sum := sha256.Sum256([]byte(v))
	return "sha256-" + hex.EncodeToString(sum[:])
}
