// Package entity defines the domain records that flow through the pipeline.
// A Post is created by the fetch stage, enriched and classified in later
// stages, and persisted by the writer.
package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceType identifies the kind of platform a post originated from.
type SourceType string

const (
	SourceMicroblog     SourceType = "Microblog"
	SourcePublicAccount SourceType = "PublicAccount"
	SourceVideo         SourceType = "Video"
	SourceBlog          SourceType = "Blog"
)

// Valid reports whether the source type is one of the known variants.
func (s SourceType) Valid() bool {
	switch s {
	case SourceMicroblog, SourcePublicAccount, SourceVideo, SourceBlog:
		return true
	}
	return false
}

// Bucket is the quality bucket a post is filed under on disk.
type Bucket string

const (
	BucketHigh     Bucket = "high"
	BucketPending  Bucket = "pending"
	BucketExcluded Bucket = "excluded"
)

// Post is the unit of content flowing through all pipeline queues.
// Field ownership follows the stage that populates it: the fetcher fills
// the identity and content fields, the enricher appends ExtraContent,
// the organizer fills the classification fields, and the writer computes
// ContentHash.
type Post struct {
	// Fetcher-owned
	Title      string
	Date       string // YYYY-MM-DD in the source timezone
	Link       string
	SourceType SourceType
	SourceName string
	Content    string
	ExtraURLs  []string

	// Enricher-owned
	ExtraContent string

	// Organizer-owned
	Event         string
	Category      string
	Domain        string
	QualityScore  int
	QualityReason string
	KeyInfo       []string
	Detail        string

	// Writer-owned
	ContentHash string
}

// AddExtraURL appends a URL to ExtraURLs, preserving order and skipping
// duplicates. Returns true if the URL was added.
func (p *Post) AddExtraURL(u string) bool {
	if u == "" {
		return false
	}
	for _, existing := range p.ExtraURLs {
		if existing == u {
			return false
		}
	}
	p.ExtraURLs = append(p.ExtraURLs, u)
	return true
}

// Bucket maps the quality score onto the on-disk bucket.
// Score 4 and 5 are high, 2 and 3 are pending, everything else excluded.
func (p *Post) Bucket() Bucket {
	switch {
	case p.QualityScore >= 4:
		return BucketHigh
	case p.QualityScore >= 2:
		return BucketPending
	default:
		return BucketExcluded
	}
}

// HashLink computes the short content hash over the post's link: the first
// six hex characters of its SHA-256 digest. The writer uses it as part of
// the file identity.
func (p *Post) HashLink() string {
	sum := sha256.Sum256([]byte(p.Link))
	return hex.EncodeToString(sum[:])[:6]
}

// WithinLookback reports whether the post's date falls inside the lookback
// window ending at now. Posts with an unparseable date are rejected so the
// caller can drop them with a warning.
func (p *Post) WithinLookback(now time.Time, days int) (bool, error) {
	d, err := time.Parse("2006-01-02", p.Date)
	if err != nil {
		return false, err
	}
	cutoff := now.AddDate(0, 0, -days)
	return !d.Before(cutoff.Truncate(24 * time.Hour)), nil
}
