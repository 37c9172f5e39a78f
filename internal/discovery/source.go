// Package discovery supplies candidate businesses for discovery jobs.
//
// No real crawl integration is wired yet; StaticSource synthesizes a small
// deterministic candidate list keyed by location and industry so the rest of
// the pipeline (dedup, persistence, counters) runs against stable data.
// Callers must not assume real-world businesses.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/zzpscan/zzpscan/internal/catalog"
)

// IDGenerator mints external identifiers for synthesized businesses.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// StaticSource implements catalog.Discoverer with placeholder data.
type StaticSource struct {
	idGen IDGenerator
}

// NewStatic constructs a StaticSource.
func NewStatic(idGen IDGenerator) *StaticSource {
	return &StaticSource{idGen: idGen}
}

// Discover returns two deterministic candidates for the location. The
// source_id embeds the job id, so re-running the same job yields duplicates
// that exercise the (source, source_id) dedup path.
func (s *StaticSource) Discover(_ context.Context, kind catalog.JobKind, location, industry string, jobID int64) ([]catalog.Business, error) {
	city, country := splitLocation(location)
	source := kind.SourceName()
	prefix := sourcePrefix(kind)

	type seed struct {
		n            int
		businessType string
		industry     string
		phone        string
		hasWebsite   bool
		websiteURL   string
		confidence   float64
	}
	seeds := []seed{
		{n: 1, businessType: "Webdesign", industry: "Technology", phone: "+31 6 12345678", confidence: 0.8},
		{n: 2, businessType: "Marketing", industry: "Marketing", phone: "+31 6 87654321",
			hasWebsite: true, websiteURL: "https://testbusiness2.nl", confidence: 0.9},
	}

	out := make([]catalog.Business, 0, len(seeds))
	for _, sd := range seeds {
		extID, err := s.idGen.NewRawID()
		if err != nil {
			return nil, fmt.Errorf("generate business uuid: %w", err)
		}
		ind := industry
		if ind == "" {
			ind = sd.industry
		}
		b := catalog.Business{
			UUID:            extID,
			Name:            fmt.Sprintf("Test Business %d - %s", sd.n, location),
			Address:         fmt.Sprintf("Test Address %d, %s", sd.n, location),
			City:            city,
			Country:         country,
			Phone:           sd.phone,
			Email:           fmt.Sprintf("info@testbusiness%d.nl", sd.n),
			BusinessType:    sd.businessType,
			Industry:        ind,
			IsSelfEmployed:  true,
			WebsiteExists:   sd.hasWebsite,
			WebsiteURL:      sd.websiteURL,
			Source:          source,
			SourceID:        fmt.Sprintf("%s_%d_%d", prefix, sd.n, jobID),
			ConfidenceScore: catalog.ClampConfidence(sd.confidence),
		}
		raw, err := json.Marshal(map[string]any{
			"generator": "static",
			"location":  location,
			"industry":  ind,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal raw data: %w", err)
		}
		b.RawData = raw
		out = append(out, b)
	}
	return out, nil
}

func splitLocation(location string) (city, country string) {
	parts := strings.Split(location, ",")
	city = strings.TrimSpace(parts[0])
	country = "Netherlands"
	if len(parts) > 1 {
		country = strings.TrimSpace(parts[len(parts)-1])
	}
	return city, country
}

func sourcePrefix(kind catalog.JobKind) string {
	switch kind {
	case catalog.JobKindGoogleMaps:
		return "gm"
	case catalog.JobKindLinkedIn:
		return "li"
	case catalog.JobKindFacebook:
		return "fb"
	case catalog.JobKindChamberOfCommerce:
		return "coc"
	default:
		return "src"
	}
}
