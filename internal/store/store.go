// Package store defines the data-access port onto the reference utility
// server's database, plus the record types the engine reads from it.
package store

import (
	"context"
	"math"
	"time"
)

// ReadingLocation is a MirrorUsagePoint roleFlags bitmask identifying where a
// reading was taken. Combinations follow CSIP-AUS Annex A (Reporting DER
// Data).
type ReadingLocation int

// ReadingLocation values.
const (
	SiteReading   ReadingLocation = 1 | 2      // isMirror | isPremisesAggregationPoint
	DeviceReading ReadingLocation = 1 | 8 | 64 // isMirror | isDER | isSubmeter
)

// IEEE 2030.5 unit-of-measure, kind and data-qualifier codes used by the
// harness.
const (
	UomRealPowerWatt    = 38
	UomReactivePowerVar = 63
	UomVoltage          = 29

	KindPower = 37

	QualifierAverage = 2
)

// Pow10 is a scaled numeric value stored as (mantissa, power-of-ten
// exponent) per IEEE 2030.5 encoding.
type Pow10 struct {
	Value      int64
	Multiplier int
}

// Float combines the mantissa and exponent into a floating-point value.
func (p Pow10) Float() float64 {
	return float64(p.Value) * math.Pow(10, float64(p.Multiplier))
}

// Int combines the mantissa and exponent, truncated to an integer.
func (p Pow10) Int() int {
	return int(p.Float())
}

// Site is an EndDevice registered with the reference server.
type Site struct {
	SiteID          int64
	AggregatorID    int64
	LFDI            string
	SFDI            int64
	NMI             string
	DeviceCategory  int64
	RegistrationPIN int
	TimezoneID      string
	CreatedTime     time.Time
	ChangedTime     time.Time
}

// DERSetting is the most recent DERSettings submission for a site.
type DERSetting struct {
	SiteID            int64
	GradW             *int64
	MaxW              *Pow10
	MaxVA             *Pow10
	MaxVar            *Pow10
	MaxVarNeg         *Pow10
	MaxChargeRateW    *Pow10
	MaxDischargeRateW *Pow10
	MaxWh             *Pow10
	MinPFOverExcited  *Pow10
	MinPFUnderExcited *Pow10
	ChangedTime       time.Time
}

// DERRating is the most recent DERCapability submission for a site.
type DERRating struct {
	SiteID            int64
	MaxW              *Pow10
	MaxVA             *Pow10
	MaxVar            *Pow10
	MaxChargeRateW    *Pow10
	MaxDischargeRateW *Pow10
	ChangedTime       time.Time
}

// DERStatus is the most recent DERStatus submission for a site.
type DERStatus struct {
	SiteID                 int64
	GeneratorConnectStatus *int
	OperationalModeStatus  *int
	ChangedTime            time.Time
}

// ControlRecord is a DER control (dynamic operating envelope) row, live or
// archived. An archived row carries ArchiveTime; if it represents a deletion
// it additionally carries DeletedTime.
type ControlRecord struct {
	ControlID       int64
	GroupID         int64
	SiteID          int64
	StartTime       time.Time
	DurationSeconds int
	ChangedTime     time.Time
	// Superseded marks a live row that has been replaced by a newer
	// version; its historical interval is supplied by archive rows instead.
	Superseded  bool
	Archived    bool
	ArchiveTime *time.Time
	DeletedTime *time.Time

	ImportLimitW     *float64
	ExportLimitW     *float64
	LoadLimitW       *float64
	GenerationLimitW *float64
}

// DefaultControlRecord is a default site control row, live or archived.
// Defaults have no fixed duration: a live row applies from its ChangedTime
// onward, an archived row from ChangedTime to ArchiveTime.
type DefaultControlRecord struct {
	SiteID      int64
	ChangedTime time.Time
	Archived    bool
	ArchiveTime *time.Time

	ImportLimitW     *float64
	ExportLimitW     *float64
	LoadLimitW       *float64
	GenerationLimitW *float64
}

// ReadingType is a MirrorUsagePoint / reading-type registration.
type ReadingType struct {
	ReadingTypeID        int64
	SiteID               int64
	UOM                  int
	Kind                 int
	DataQualifier        int
	RoleFlags            int
	PowerOfTenMultiplier int
	CreatedTime          time.Time
}

// Reading is a single submitted reading for a reading type.
type Reading struct {
	ReadingTypeID     int64
	Value             int64
	TimePeriodStart   time.Time
	TimePeriodSeconds int
}

// NotificationLog records one attempted subscription notification delivery.
type NotificationLog struct {
	SubscriptionID int64
	HTTPStatus     int
}

// Subscription is a pub/sub subscription row.
type Subscription struct {
	SubscriptionID int64
	AggregatorID   int64
	ScopedSiteID   int64
	ResourceType   int
	ResourceID     int64
}

// ControlResponse records a client DERControl response.
type ControlResponse struct {
	ResponseID   int64
	ControlID    int64
	ResponseType int
	CreatedTime  time.Time
}

// Session is a consistent point-in-time view of the reference server
// database. A session maps to one database transaction: reads within it do
// not observe writes that happen after it was opened.
type Session interface {
	// ActiveSite returns the last site created or modified by the client,
	// or nil if no sites are registered.
	ActiveSite(ctx context.Context) (*Site, error)

	// LatestDERSetting returns the most recently changed DERSetting row
	// across all sites, or nil if none exist.
	LatestDERSetting(ctx context.Context) (*DERSetting, error)
	// LatestDERRating returns the most recently changed DERCapability row
	// across all sites, or nil if none exist.
	LatestDERRating(ctx context.Context) (*DERRating, error)

	// DERSettingForSite / DERRatingForSite / DERStatusForSite return the
	// submission for a specific site, or nil if absent.
	DERSettingForSite(ctx context.Context, siteID int64) (*DERSetting, error)
	DERRatingForSite(ctx context.Context, siteID int64) (*DERRating, error)
	DERStatusForSite(ctx context.Context, siteID int64) (*DERStatus, error)

	// ReadingTypes returns reading types for a site matching the CSIP-AUS
	// classification, ordered by creation time.
	ReadingTypes(ctx context.Context, siteID int64, location ReadingLocation, uom, kind, qualifier int) ([]ReadingType, error)
	// ReadingCounts returns the number of readings per reading type.
	// Reading types with zero readings are absent from the map.
	ReadingCounts(ctx context.Context, readingTypeIDs []int64) (map[int64]int, error)
	// Readings returns all readings for a reading type, oldest first.
	Readings(ctx context.Context, readingTypeID int64) ([]Reading, error)

	// ControlsWithArchive returns all control rows for a site: live,
	// superseded and archived (including deletions).
	ControlsWithArchive(ctx context.Context, siteID int64) ([]ControlRecord, error)
	// DefaultControlsWithArchive returns all default-control rows for a
	// site, live and archived.
	DefaultControlsWithArchive(ctx context.Context, siteID int64) ([]DefaultControlRecord, error)

	// NotificationLogs returns every recorded notification transmission.
	NotificationLogs(ctx context.Context) ([]NotificationLog, error)
	// FindSubscription returns the subscription matching the scope and
	// resource, or nil if none exists.
	FindSubscription(ctx context.Context, aggregatorID, siteID int64, resourceType int, resourceID int64) (*Subscription, error)
	// LatestControlResponse returns the most recently created control
	// response, or nil if none exist.
	LatestControlResponse(ctx context.Context) (*ControlResponse, error)
	// FindControlResponse returns any control response matching the
	// optional response-type filter, or nil.
	FindControlResponse(ctx context.Context, responseType *int) (*ControlResponse, error)

	// InsertSite registers a site directly (out-of-band registration).
	InsertSite(ctx context.Context, site Site) error

	// Commit makes any writes performed in this session durable.
	Commit(ctx context.Context) error
	// Rollback discards the session. Safe to call after Commit.
	Rollback(ctx context.Context) error
}

// Store opens sessions against the reference server database and performs
// the run-lifecycle administrative operations.
type Store interface {
	// Begin opens a new consistent session.
	Begin(ctx context.Context) (Session, error)

	// Reset truncates all test data, returning the database to a pristine
	// state for a new run.
	Reset(ctx context.Context) error
	// RegisterAggregator installs the client certificate identity and
	// returns the aggregator ID the client will operate as (0 for device
	// certificates).
	RegisterAggregator(ctx context.Context, lfdi *string, subscriptionDomain *string) (int64, error)

	// Close releases the underlying connection pool.
	Close()
}
