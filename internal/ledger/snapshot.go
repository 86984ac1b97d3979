package ledger

import (
	"sort"

	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/nullifier"
	"github.com/veritrace/veritrace/internal/policy"
	"github.com/veritrace/veritrace/internal/reporter"
)

// ProfileRecord pairs a reporter identity with its profile for
// persistence.
type ProfileRecord struct {
	Actor   crypto.ActorID
	Profile reporter.Profile
}

// Meta is the ledger's scalar bookkeeping state.
type Meta struct {
	NextReportID  uint64
	Pool          uint64
	TotalReports  uint64
	OpenReports   uint64
	ConfirmedFake uint64
}

// Snapshot is a complete copy of the ledger state, used by the store to
// persist and reload it.
type Snapshot struct {
	Reports    []Report
	Profiles   []ProfileRecord
	Nullifiers []crypto.Hash
	HighRisk   []crypto.Hash
	Params     policy.Parameters
	Meta       Meta
}

// Snapshot copies the full ledger state. Reports are ordered by id so the
// output is deterministic.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		Params: l.params,
		Meta: Meta{
			NextReportID:  l.nextReportID,
			Pool:          l.pool,
			TotalReports:  l.totalReports,
			OpenReports:   l.openReports,
			ConfirmedFake: l.confirmedFake,
		},
		HighRisk: l.highRisk.Snapshot(),
	}
	for _, rep := range l.reports {
		s.Reports = append(s.Reports, *rep)
	}
	sort.Slice(s.Reports, func(i, j int) bool { return s.Reports[i].ID < s.Reports[j].ID })

	l.reporters.Each(func(actor crypto.ActorID, p reporter.Profile) {
		s.Profiles = append(s.Profiles, ProfileRecord{Actor: actor, Profile: p})
	})
	l.nullifiers.Each(func(n crypto.Hash) {
		s.Nullifiers = append(s.Nullifiers, n)
	})
	return s
}

// Restore replaces the ledger state with a snapshot. The open-report
// guard is rebuilt from the pending reports.
func (l *Ledger) Restore(s Snapshot) error {
	if err := s.Params.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.params = s.Params
	l.nextReportID = s.Meta.NextReportID
	l.pool = s.Meta.Pool
	l.totalReports = s.Meta.TotalReports
	l.openReports = s.Meta.OpenReports
	l.confirmedFake = s.Meta.ConfirmedFake

	l.reports = make(map[ReportID]*Report, len(s.Reports))
	l.openReport = make(map[openKey]struct{})
	for _, rep := range s.Reports {
		cp := rep
		l.reports[rep.ID] = &cp
		if rep.Status == StatusPending {
			l.openReport[openKey{reporter: rep.ReporterID, item: rep.ItemID}] = struct{}{}
		}
	}

	l.reporters = reporter.NewRegistry()
	for _, pr := range s.Profiles {
		l.reporters.Restore(pr.Actor, pr.Profile)
	}

	l.nullifiers = nullifier.NewSetFrom(s.Nullifiers)

	l.highRisk.Restore(s.HighRisk)
	return nil
}
