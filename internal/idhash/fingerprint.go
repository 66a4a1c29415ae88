package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"price-band-lab/internal/domain"
)

// DatasetFingerprint computes a deterministic identity for a set of observations.
// Formula: SHA256(sorted records of group, parent, timestamp_ms, price and the sorted
// attribute pairs), every field length-prefixed so no key content can forge a boundary.
// Input order and attribute map order do not affect the result.
// Returns hex-encoded hash (64 characters).
func DatasetFingerprint(obs []*domain.Observation) string {
	records := make([]string, 0, len(obs))
	for _, o := range obs {
		if o == nil {
			continue
		}
		records = append(records, record(o))
	}
	sort.Strings(records)

	h := sha256.New()
	for _, r := range records {
		h.Write([]byte(field(r)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func record(o *domain.Observation) string {
	var b strings.Builder
	b.WriteString(field(o.GroupKey))
	b.WriteString(field(o.Parent()))
	b.WriteString(field(strconv.FormatInt(o.TimestampMs, 10)))
	b.WriteString(field(strconv.FormatFloat(o.Price, 'g', -1, 64)))

	names := make([]string, 0, len(o.Attributes))
	for name := range o.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString(field(strconv.Itoa(len(names))))
	for _, name := range names {
		b.WriteString(field(name))
		b.WriteString(field(o.Attributes[name]))
	}
	return b.String()
}

// field encodes s as "<len>:<s>".
func field(s string) string {
	return strconv.Itoa(len(s)) + ":" + s
}

// RunKey identifies one evaluation of a dataset.
// Formula: SHA256(fingerprint, level, k), fields length-prefixed.
func RunKey(fingerprint string, level domain.Level, k float64) string {
	data := field(fingerprint) + field(string(level)) + field(strconv.FormatFloat(k, 'g', -1, 64))

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
