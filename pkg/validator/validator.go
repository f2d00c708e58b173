// Package validator implements FetchBox's manifest validation: a pure
// function from a deserialized manifest to either nothing or a typed
// error, with no I/O.
package validator

import (
	"fmt"

	"github.com/oiwn/fetchbox/pkg/types"
)

// ErrorKind enumerates every way a manifest can fail validation.
type ErrorKind int

const (
	UnsupportedVersion ErrorKind = iota
	InvalidMetadata
	InvalidResourceCount
	InvalidAttributes
	ResourceNameTooLong
	DuplicateResourceNames
	InvalidResourceURL
	HeaderLimitExceeded
	HeaderValueTooLarge
	TagLimitExceeded
	TagValueTooLarge
)

// Error carries the failed check plus enough context for a client-
// facing message.
type Error struct {
	Kind         ErrorKind
	ResourceName string
	Key          string
}

func (e *Error) Error() string {
	switch e.Kind {
	case UnsupportedVersion:
		return "manifest_version must be 'v1'"
	case InvalidMetadata:
		return "metadata must be an object"
	case InvalidResourceCount:
		return "resources must contain between 1 and 1000 entries"
	case InvalidAttributes:
		return "attributes must be an object when present"
	case ResourceNameTooLong:
		return fmt.Sprintf("resource name %q exceeds 128 bytes", e.ResourceName)
	case DuplicateResourceNames:
		return "resource names must be unique"
	case InvalidResourceURL:
		return fmt.Sprintf("resource %q must include an http/https url", e.ResourceName)
	case HeaderLimitExceeded:
		return fmt.Sprintf("resource %q headers exceed limit of 10", e.ResourceName)
	case HeaderValueTooLarge:
		return fmt.Sprintf("resource %q header value %q exceeds 1024 bytes or contains a NUL byte", e.ResourceName, e.Key)
	case TagLimitExceeded:
		return fmt.Sprintf("tags for resource %q exceed limit of 10", e.ResourceName)
	case TagValueTooLarge:
		return fmt.Sprintf("tag value for resource %q key %q exceeds 1024 bytes", e.ResourceName, e.Key)
	default:
		return "manifest validation failed"
	}
}

const (
	maxResourceNameBytes = 128
	maxHeaderValueBytes  = 1024
	maxTagValueBytes     = 1024
	maxHeadersPerRes     = 10
	maxTagsPerRes        = 10
	minResources         = 1
	maxResources         = 1000
)

// Validate checks manifest against every rule in order: version,
// metadata shape, resource count, attributes shape, then per-resource
// name length, uniqueness, url, headers, and tags. The first failing
// check short-circuits the rest.
func Validate(manifest types.Manifest) error {
	if manifest.Version != "v1" {
		return &Error{Kind: UnsupportedVersion}
	}
	if !isMapping(manifest.Metadata) {
		return &Error{Kind: InvalidMetadata}
	}
	if len(manifest.Resources) < minResources || len(manifest.Resources) > maxResources {
		return &Error{Kind: InvalidResourceCount}
	}
	if manifest.Attributes != nil && !isMapping(manifest.Attributes) {
		return &Error{Kind: InvalidAttributes}
	}

	seen := make(map[string]struct{}, len(manifest.Resources))
	for _, r := range manifest.Resources {
		if len(r.Name) > maxResourceNameBytes {
			return &Error{Kind: ResourceNameTooLong, ResourceName: r.Name}
		}
		if _, dup := seen[r.Name]; dup {
			return &Error{Kind: DuplicateResourceNames}
		}
		seen[r.Name] = struct{}{}

		if !hasHTTPScheme(r.URL) {
			return &Error{Kind: InvalidResourceURL, ResourceName: r.Name}
		}

		if len(r.Headers) > maxHeadersPerRes {
			return &Error{Kind: HeaderLimitExceeded, ResourceName: r.Name}
		}
		for key, value := range r.Headers {
			if len(value) > maxHeaderValueBytes || containsNUL(value) {
				return &Error{Kind: HeaderValueTooLarge, ResourceName: r.Name, Key: key}
			}
		}

		if len(r.Tags) > maxTagsPerRes {
			return &Error{Kind: TagLimitExceeded, ResourceName: r.Name}
		}
		for key, value := range r.Tags {
			if len(value) > maxTagValueBytes {
				return &Error{Kind: TagValueTooLarge, ResourceName: r.Name, Key: key}
			}
		}
	}

	return nil
}

func hasHTTPScheme(url string) bool {
	return hasPrefix(url, "http://") || hasPrefix(url, "https://")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func containsNUL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return true
		}
	}
	return false
}

// isMapping reports whether v decoded from JSON as an object. A nil
// interface (absent field, or JSON null) is not a mapping.
func isMapping(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}
