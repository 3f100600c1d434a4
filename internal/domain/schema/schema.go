// Package schema computes stable content fingerprints of serialized index
// schemas, used to detect whether a schema changed since the last version.
package schema

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/searchops/indexmigrate/internal/domain"
)

// Schema is a serialized index definition: settings plus field mappings.
// Nested values are plain maps so that canonical serialization is possible.
type Schema struct {
	Settings map[string]any `json:"settings,omitempty"`
	Mappings map[string]any `json:"mappings,omitempty"`
}

// Parse decodes a schema from its JSON representation.
func Parse(raw []byte) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return Schema{}, fmt.Errorf("parse schema: %w: %w", domain.ErrSchemaSerialization, err)
	}
	return s, nil
}

// Fingerprint serializes the schema with deterministic key ordering and
// returns its content hash (hex-encoded 128-bit digest) together with the
// canonical JSON text. Pure; the only error path is a schema that cannot be
// serialized.
//
// encoding/json sorts map keys, so field declaration order in code never
// changes the hash.
func Fingerprint(s Schema) (hash string, canonical string, err error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", domain.ErrSchemaSerialization, err)
	}
	sum := md5.Sum(raw) //nolint:gosec
	return hex.EncodeToString(sum[:]), string(raw), nil
}

// ParsePhysicalName splits a physical index name of the form
// {prefix}{base}-{id} into its base name and version id. The prefix is
// stripped when present; the base name itself may contain dashes, so the id
// is taken after the last dash.
func ParsePhysicalName(name, prefix string) (base string, id int64, err error) {
	trimmed := strings.TrimPrefix(name, prefix)
	sep := strings.LastIndex(trimmed, "-")
	if sep <= 0 || sep == len(trimmed)-1 {
		return "", 0, fmt.Errorf("physical index name %q: expected {base}-{version}", name)
	}
	id, err = strconv.ParseInt(trimmed[sep+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("physical index name %q: version is not numeric: %w", name, err)
	}
	return trimmed[:sep], id, nil
}
