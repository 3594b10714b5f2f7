// Package testutil provides in-memory fakes for the data-access port.
package testutil

import (
	"context"
	"errors"
	"sort"

	"github.com/banksia-harness/banksia/internal/store"
)

// MockSession is an in-memory store.Session backed by plain slices. Populate
// the exported fields, then hand it to code under test. Set Err to force
// every query to fail.
type MockSession struct {
	Site             *store.Site
	DERSettings      []store.DERSetting
	DERRatings       []store.DERRating
	DERStatuses      []store.DERStatus
	ReadingTypeRows  []store.ReadingType
	ReadingRows      []store.Reading
	Controls         []store.ControlRecord
	DefaultControls  []store.DefaultControlRecord
	Notifications    []store.NotificationLog
	Subscriptions    []store.Subscription
	ControlResponses []store.ControlResponse

	InsertedSites []store.Site
	Committed     bool
	RolledBack    bool
	Err           error
}

var _ store.Session = (*MockSession)(nil)

func (m *MockSession) ActiveSite(context.Context) (*store.Site, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Site, nil
}

func (m *MockSession) LatestDERSetting(context.Context) (*store.DERSetting, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var latest *store.DERSetting
	for i := range m.DERSettings {
		row := &m.DERSettings[i]
		if latest == nil || row.ChangedTime.After(latest.ChangedTime) {
			latest = row
		}
	}
	return latest, nil
}

func (m *MockSession) LatestDERRating(context.Context) (*store.DERRating, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var latest *store.DERRating
	for i := range m.DERRatings {
		row := &m.DERRatings[i]
		if latest == nil || row.ChangedTime.After(latest.ChangedTime) {
			latest = row
		}
	}
	return latest, nil
}

func (m *MockSession) DERSettingForSite(_ context.Context, siteID int64) (*store.DERSetting, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.DERSettings {
		if m.DERSettings[i].SiteID == siteID {
			return &m.DERSettings[i], nil
		}
	}
	return nil, nil
}

func (m *MockSession) DERRatingForSite(_ context.Context, siteID int64) (*store.DERRating, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.DERRatings {
		if m.DERRatings[i].SiteID == siteID {
			return &m.DERRatings[i], nil
		}
	}
	return nil, nil
}

func (m *MockSession) DERStatusForSite(_ context.Context, siteID int64) (*store.DERStatus, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.DERStatuses {
		if m.DERStatuses[i].SiteID == siteID {
			return &m.DERStatuses[i], nil
		}
	}
	return nil, nil
}

func (m *MockSession) ReadingTypes(_ context.Context, siteID int64, location store.ReadingLocation, uom, kind, qualifier int) ([]store.ReadingType, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []store.ReadingType
	for _, rt := range m.ReadingTypeRows {
		if rt.SiteID == siteID && rt.RoleFlags == int(location) && rt.UOM == uom && rt.Kind == kind && rt.DataQualifier == qualifier {
			out = append(out, rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTime.Before(out[j].CreatedTime) })
	return out, nil
}

func (m *MockSession) ReadingCounts(_ context.Context, readingTypeIDs []int64) (map[int64]int, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	wanted := make(map[int64]bool, len(readingTypeIDs))
	for _, id := range readingTypeIDs {
		wanted[id] = true
	}
	counts := make(map[int64]int)
	for _, r := range m.ReadingRows {
		if wanted[r.ReadingTypeID] {
			counts[r.ReadingTypeID]++
		}
	}
	return counts, nil
}

func (m *MockSession) Readings(_ context.Context, readingTypeID int64) ([]store.Reading, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []store.Reading
	for _, r := range m.ReadingRows {
		if r.ReadingTypeID == readingTypeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimePeriodStart.Before(out[j].TimePeriodStart) })
	return out, nil
}

func (m *MockSession) ControlsWithArchive(_ context.Context, siteID int64) ([]store.ControlRecord, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []store.ControlRecord
	for _, c := range m.Controls {
		if c.SiteID == siteID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockSession) DefaultControlsWithArchive(_ context.Context, siteID int64) ([]store.DefaultControlRecord, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []store.DefaultControlRecord
	for _, c := range m.DefaultControls {
		if c.SiteID == siteID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockSession) NotificationLogs(context.Context) ([]store.NotificationLog, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Notifications, nil
}

func (m *MockSession) FindSubscription(_ context.Context, aggregatorID, siteID int64, resourceType int, resourceID int64) (*store.Subscription, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.Subscriptions {
		s := &m.Subscriptions[i]
		if s.AggregatorID == aggregatorID && s.ScopedSiteID == siteID && s.ResourceType == resourceType && s.ResourceID == resourceID {
			return s, nil
		}
	}
	return nil, nil
}

func (m *MockSession) LatestControlResponse(context.Context) (*store.ControlResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var latest *store.ControlResponse
	for i := range m.ControlResponses {
		row := &m.ControlResponses[i]
		if latest == nil || row.CreatedTime.After(latest.CreatedTime) {
			latest = row
		}
	}
	return latest, nil
}

func (m *MockSession) FindControlResponse(_ context.Context, responseType *int) (*store.ControlResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.ControlResponses {
		row := &m.ControlResponses[i]
		if responseType == nil || row.ResponseType == *responseType {
			return row, nil
		}
	}
	return nil, nil
}

func (m *MockSession) InsertSite(_ context.Context, site store.Site) error {
	if m.Err != nil {
		return m.Err
	}
	m.InsertedSites = append(m.InsertedSites, site)
	m.Site = &site
	return nil
}

func (m *MockSession) Commit(context.Context) error {
	if m.Err != nil {
		return m.Err
	}
	m.Committed = true
	return nil
}

func (m *MockSession) Rollback(context.Context) error {
	m.RolledBack = true
	return nil
}

// MockStore is an in-memory store.Store that always hands out the same
// session.
type MockStore struct {
	Session *MockSession

	ResetCalled      bool
	RegisteredLFDI   *string
	RegisteredDomain *string
	RegisterResultID int64
	BeginErr         error
	Closed           bool
}

var _ store.Store = (*MockStore)(nil)

func (m *MockStore) Begin(context.Context) (store.Session, error) {
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	if m.Session == nil {
		return nil, errors.New("mock store has no session configured")
	}
	return m.Session, nil
}

func (m *MockStore) Reset(context.Context) error {
	m.ResetCalled = true
	return nil
}

func (m *MockStore) RegisterAggregator(_ context.Context, lfdi *string, domain *string) (int64, error) {
	m.RegisteredLFDI = lfdi
	m.RegisteredDomain = domain
	return m.RegisterResultID, nil
}

func (m *MockStore) Close() { m.Closed = true }
