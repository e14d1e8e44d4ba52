package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprintLen is the number of hex characters kept from the descriptor
// digest. 64 bits is plenty for distinguishing package configurations.
const fingerprintLen = 16

// Descriptor is the identity-relevant subset of a package's fetch
// configuration. Build-time options are deliberately not part of it: changing
// options must never trigger a refetch.
//
// Exactly one acquisition source is meaningful per descriptor. When several
// are set, the priority is github repository, then git repository, then
// archive URL.
type Descriptor struct {
	Name             string
	Version          string
	GitTag           string
	GithubRepository string // "owner/repo" shorthand, expanded to a clone URL
	GitRepository    string
	URL              string
}

// GitURL returns the git clone URL for the descriptor, or "" when no git
// source is configured. A github repository shorthand wins over an explicit
// git URL.
func (d *Descriptor) GitURL() string {
	if d.GithubRepository != "" {
		return "https://github.com/" + d.GithubRepository + ".git"
	}
	return d.GitRepository
}

// EffectiveTag returns the tag or branch to pin a clone to. When no explicit
// tag is given but a version is, the conventional "v<version>" tag is used.
// Returns "" when the clone should track the remote default branch.
func (d *Descriptor) EffectiveTag() string {
	if d.GitTag != "" {
		return d.GitTag
	}
	if d.Version != "" {
		return "v" + d.Version
	}
	return ""
}

// HasSource reports whether any acquisition source is configured.
func (d *Descriptor) HasSource() bool {
	return d.GithubRepository != "" || d.GitRepository != "" || d.URL != ""
}

// record returns the persistable snapshot of the descriptor.
func (d *Descriptor) record() *Record {
	return &Record{
		Version:          d.Version,
		GitTag:           d.GitTag,
		GithubRepository: d.GithubRepository,
		GitRepository:    d.GitRepository,
		URL:              d.URL,
	}
}

// Record is the persisted snapshot of the descriptor last used to materialize
// a package. A package directory is valid if and only if its record exists
// and fingerprints to the same value as the current descriptor.
type Record struct {
	Version          string `toml:"version" json:"version"`
	GitTag           string `toml:"git_tag" json:"git_tag"`
	GithubRepository string `toml:"github_repository" json:"github_repository"`
	GitRepository    string `toml:"git_repository" json:"git_repository"`
	URL              string `toml:"url" json:"url"`
}

// Fingerprint computes the deterministic identity digest of a descriptor:
// sorted-key JSON of the identity fields, SHA-256, truncated hex. Field order
// on the caller's side can never change the result because map keys are
// serialized sorted.
func Fingerprint(d *Descriptor) string {
	return fingerprint(d.record())
}

func fingerprint(r *Record) string {
	identity := map[string]string{
		"version":           r.Version,
		"git_tag":           r.GitTag,
		"github_repository": r.GithubRepository,
		"git_repository":    r.GitRepository,
		"url":               r.URL,
	}
	data, err := json.Marshal(identity)
	if err != nil {
		// A map[string]string cannot fail to marshal.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
