package app

import (
	"context"

	"github.com/artpar/quotaguard/domain/fault"
	"github.com/artpar/quotaguard/domain/usage"
	"github.com/artpar/quotaguard/ports"
	"github.com/rs/zerolog"
)

// UsageService appends to and reports on the per-key usage ledger.
type UsageService struct {
	usage  ports.UsageStore
	keys   ports.KeyStore
	idGen  ports.IDGenerator
	clock  ports.Clock
	logger zerolog.Logger
}

// UsageServiceDeps contains dependencies for UsageService.
type UsageServiceDeps struct {
	Usage  ports.UsageStore
	Keys   ports.KeyStore
	IDGen  ports.IDGenerator
	Clock  ports.Clock
	Logger zerolog.Logger
}

// NewUsageService creates a usage service.
func NewUsageService(deps UsageServiceDeps) *UsageService {
	return &UsageService{
		usage:  deps.Usage,
		keys:   deps.Keys,
		idGen:  deps.IDGen,
		clock:  deps.Clock,
		logger: deps.Logger,
	}
}

// RecordUsage appends a unit-cost record for keyID and touches the key's
// last-used time. A failed touch is logged, not returned.
func (s *UsageService) RecordUsage(ctx context.Context, keyID, endpoint string) error {
	now := s.clock.Now()
	r := usage.Record{
		ID:        s.idGen.New(),
		KeyID:     keyID,
		Endpoint:  endpoint,
		Cost:      1,
		Timestamp: now,
	}
	if err := s.usage.Append(ctx, r); err != nil {
		return fault.Unavailable("append usage", err)
	}

	if err := s.keys.UpdateLastUsed(ctx, keyID, now); err != nil {
		s.logger.Warn().Err(err).
			Str("key_id", keyID).
			Msg("failed to update key last used")
	}
	return nil
}

// KeyUsage reports per-endpoint usage of keyID over the last days days.
// Non-positive days use usage.DefaultReportDays.
func (s *UsageService) KeyUsage(ctx context.Context, keyID string, days int) (usage.Report, error) {
	since := usage.ReportSince(s.clock.Now(), days)
	stats, err := s.usage.EndpointStats(ctx, keyID, since)
	if err != nil {
		return usage.Report{}, fault.Unavailable("usage stats", err)
	}
	return usage.NewReport(keyID, since, stats), nil
}
