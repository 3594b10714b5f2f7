package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/banksia-harness/banksia/internal/store"
)

type session struct {
	tx           pgx.Tx
	queryTimeout time.Duration
}

var _ store.Session = (*session)(nil)

func (s *session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *session) ActiveSite(ctx context.Context) (*store.Site, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var site store.Site
	err := s.tx.QueryRow(ctx, `
		SELECT site_id, aggregator_id, lfdi, sfdi, COALESCE(nmi, ''), device_category,
		       registration_pin, COALESCE(timezone_id, ''), created_time, changed_time
		FROM site
		ORDER BY changed_time DESC
		LIMIT 1`).Scan(
		&site.SiteID, &site.AggregatorID, &site.LFDI, &site.SFDI, &site.NMI,
		&site.DeviceCategory, &site.RegistrationPIN, &site.TimezoneID,
		&site.CreatedTime, &site.ChangedTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active site: %w", err)
	}
	return &site, nil
}

const derSettingColumns = `
	site_id, grad_w,
	max_w_value, max_w_multiplier,
	max_va_value, max_va_multiplier,
	max_var_value, max_var_multiplier,
	max_var_neg_value, max_var_neg_multiplier,
	max_charge_rate_w_value, max_charge_rate_w_multiplier,
	max_discharge_rate_w_value, max_discharge_rate_w_multiplier,
	max_wh_value, max_wh_multiplier,
	min_pf_over_excited_displacement, min_pf_over_excited_multiplier,
	min_pf_under_excited_displacement, min_pf_under_excited_multiplier,
	changed_time`

func scanDERSetting(row pgx.Row) (*store.DERSetting, error) {
	var setting store.DERSetting
	var (
		maxW, maxVA, maxVar, maxVarNeg, maxChargeRateW  pow10Scan
		maxDischargeRateW, maxWh, minPFOver, minPFUnder pow10Scan
	)
	err := row.Scan(
		&setting.SiteID, &setting.GradW,
		&maxW.value, &maxW.multiplier,
		&maxVA.value, &maxVA.multiplier,
		&maxVar.value, &maxVar.multiplier,
		&maxVarNeg.value, &maxVarNeg.multiplier,
		&maxChargeRateW.value, &maxChargeRateW.multiplier,
		&maxDischargeRateW.value, &maxDischargeRateW.multiplier,
		&maxWh.value, &maxWh.multiplier,
		&minPFOver.value, &minPFOver.multiplier,
		&minPFUnder.value, &minPFUnder.multiplier,
		&setting.ChangedTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying DER setting: %w", err)
	}

	setting.MaxW = maxW.toPow10()
	setting.MaxVA = maxVA.toPow10()
	setting.MaxVar = maxVar.toPow10()
	setting.MaxVarNeg = maxVarNeg.toPow10()
	setting.MaxChargeRateW = maxChargeRateW.toPow10()
	setting.MaxDischargeRateW = maxDischargeRateW.toPow10()
	setting.MaxWh = maxWh.toPow10()
	setting.MinPFOverExcited = minPFOver.toPow10()
	setting.MinPFUnderExcited = minPFUnder.toPow10()
	return &setting, nil
}

func (s *session) LatestDERSetting(ctx context.Context) (*store.DERSetting, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return scanDERSetting(s.tx.QueryRow(ctx,
		`SELECT `+derSettingColumns+` FROM site_der_setting ORDER BY changed_time DESC LIMIT 1`))
}

func (s *session) DERSettingForSite(ctx context.Context, siteID int64) (*store.DERSetting, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return scanDERSetting(s.tx.QueryRow(ctx,
		`SELECT `+derSettingColumns+` FROM site_der_setting WHERE site_id = $1 ORDER BY changed_time DESC LIMIT 1`,
		siteID))
}

const derRatingColumns = `
	site_id,
	max_w_value, max_w_multiplier,
	max_va_value, max_va_multiplier,
	max_var_value, max_var_multiplier,
	max_charge_rate_w_value, max_charge_rate_w_multiplier,
	max_discharge_rate_w_value, max_discharge_rate_w_multiplier,
	changed_time`

func scanDERRating(row pgx.Row) (*store.DERRating, error) {
	var rating store.DERRating
	var maxW, maxVA, maxVar, maxChargeRateW, maxDischargeRateW pow10Scan
	err := row.Scan(
		&rating.SiteID,
		&maxW.value, &maxW.multiplier,
		&maxVA.value, &maxVA.multiplier,
		&maxVar.value, &maxVar.multiplier,
		&maxChargeRateW.value, &maxChargeRateW.multiplier,
		&maxDischargeRateW.value, &maxDischargeRateW.multiplier,
		&rating.ChangedTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying DER rating: %w", err)
	}

	rating.MaxW = maxW.toPow10()
	rating.MaxVA = maxVA.toPow10()
	rating.MaxVar = maxVar.toPow10()
	rating.MaxChargeRateW = maxChargeRateW.toPow10()
	rating.MaxDischargeRateW = maxDischargeRateW.toPow10()
	return &rating, nil
}

func (s *session) LatestDERRating(ctx context.Context) (*store.DERRating, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return scanDERRating(s.tx.QueryRow(ctx,
		`SELECT `+derRatingColumns+` FROM site_der_rating ORDER BY changed_time DESC LIMIT 1`))
}

func (s *session) DERRatingForSite(ctx context.Context, siteID int64) (*store.DERRating, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return scanDERRating(s.tx.QueryRow(ctx,
		`SELECT `+derRatingColumns+` FROM site_der_rating WHERE site_id = $1 ORDER BY changed_time DESC LIMIT 1`,
		siteID))
}

func (s *session) DERStatusForSite(ctx context.Context, siteID int64) (*store.DERStatus, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var status store.DERStatus
	err := s.tx.QueryRow(ctx, `
		SELECT site_id, generator_connect_status, operational_mode_status, changed_time
		FROM site_der_status
		WHERE site_id = $1
		ORDER BY changed_time DESC
		LIMIT 1`, siteID).Scan(
		&status.SiteID, &status.GeneratorConnectStatus, &status.OperationalModeStatus, &status.ChangedTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying DER status: %w", err)
	}
	return &status, nil
}

func (s *session) ReadingTypes(ctx context.Context, siteID int64, location store.ReadingLocation, uom, kind, qualifier int) ([]store.ReadingType, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.tx.Query(ctx, `
		SELECT site_reading_type_id, site_id, uom, kind, data_qualifier, role_flags,
		       power_of_ten_multiplier, created_time
		FROM site_reading_type
		WHERE site_id = $1 AND role_flags = $2 AND uom = $3 AND kind = $4 AND data_qualifier = $5
		ORDER BY created_time`, siteID, int(location), uom, kind, qualifier)
	if err != nil {
		return nil, fmt.Errorf("querying reading types: %w", err)
	}
	defer rows.Close()

	var out []store.ReadingType
	for rows.Next() {
		var rt store.ReadingType
		if err := rows.Scan(&rt.ReadingTypeID, &rt.SiteID, &rt.UOM, &rt.Kind, &rt.DataQualifier,
			&rt.RoleFlags, &rt.PowerOfTenMultiplier, &rt.CreatedTime); err != nil {
			return nil, fmt.Errorf("scanning reading type: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (s *session) ReadingCounts(ctx context.Context, readingTypeIDs []int64) (map[int64]int, error) {
	if len(readingTypeIDs) == 0 {
		return map[int64]int{}, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.tx.Query(ctx, `
		SELECT site_reading_type_id, COUNT(*)
		FROM site_reading
		WHERE site_reading_type_id = ANY($1)
		GROUP BY site_reading_type_id`, readingTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("counting readings: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning reading count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (s *session) Readings(ctx context.Context, readingTypeID int64) ([]store.Reading, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.tx.Query(ctx, `
		SELECT site_reading_type_id, value, time_period_start, time_period_seconds
		FROM site_reading
		WHERE site_reading_type_id = $1
		ORDER BY time_period_start`, readingTypeID)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var out []store.Reading
	for rows.Next() {
		var r store.Reading
		if err := rows.Scan(&r.ReadingTypeID, &r.Value, &r.TimePeriodStart, &r.TimePeriodSeconds); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *session) ControlsWithArchive(ctx context.Context, siteID int64) ([]store.ControlRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.tx.Query(ctx, `
		SELECT dynamic_operating_envelope_id, site_control_group_id, site_id,
		       start_time, duration_seconds, changed_time, superseded,
		       FALSE AS archived, NULL::timestamptz AS archive_time, NULL::timestamptz AS deleted_time,
		       import_limit_active_watts, export_limit_watts,
		       load_limit_active_watts, generation_limit_active_watts
		FROM dynamic_operating_envelope
		WHERE site_id = $1
		UNION ALL
		SELECT dynamic_operating_envelope_id, site_control_group_id, site_id,
		       start_time, duration_seconds, changed_time, superseded,
		       TRUE AS archived, archive_time, deleted_time,
		       import_limit_active_watts, export_limit_watts,
		       load_limit_active_watts, generation_limit_active_watts
		FROM archive_dynamic_operating_envelope
		WHERE site_id = $1`, siteID)
	if err != nil {
		return nil, fmt.Errorf("querying control records: %w", err)
	}
	defer rows.Close()

	var out []store.ControlRecord
	for rows.Next() {
		var c store.ControlRecord
		if err := rows.Scan(&c.ControlID, &c.GroupID, &c.SiteID,
			&c.StartTime, &c.DurationSeconds, &c.ChangedTime, &c.Superseded,
			&c.Archived, &c.ArchiveTime, &c.DeletedTime,
			&c.ImportLimitW, &c.ExportLimitW, &c.LoadLimitW, &c.GenerationLimitW); err != nil {
			return nil, fmt.Errorf("scanning control record: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *session) DefaultControlsWithArchive(ctx context.Context, siteID int64) ([]store.DefaultControlRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.tx.Query(ctx, `
		SELECT site_id, changed_time,
		       FALSE AS archived, NULL::timestamptz AS archive_time,
		       import_limit_active_watts, export_limit_watts,
		       load_limit_active_watts, generation_limit_active_watts
		FROM default_site_control
		WHERE site_id = $1
		UNION ALL
		SELECT site_id, changed_time,
		       TRUE AS archived, archive_time,
		       import_limit_active_watts, export_limit_watts,
		       load_limit_active_watts, generation_limit_active_watts
		FROM archive_default_site_control
		WHERE site_id = $1`, siteID)
	if err != nil {
		return nil, fmt.Errorf("querying default control records: %w", err)
	}
	defer rows.Close()

	var out []store.DefaultControlRecord
	for rows.Next() {
		var c store.DefaultControlRecord
		if err := rows.Scan(&c.SiteID, &c.ChangedTime, &c.Archived, &c.ArchiveTime,
			&c.ImportLimitW, &c.ExportLimitW, &c.LoadLimitW, &c.GenerationLimitW); err != nil {
			return nil, fmt.Errorf("scanning default control record: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *session) NotificationLogs(ctx context.Context) ([]store.NotificationLog, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.tx.Query(ctx,
		`SELECT subscription_id, http_status_code FROM transmit_notification_log`)
	if err != nil {
		return nil, fmt.Errorf("querying notification logs: %w", err)
	}
	defer rows.Close()

	var out []store.NotificationLog
	for rows.Next() {
		var l store.NotificationLog
		if err := rows.Scan(&l.SubscriptionID, &l.HTTPStatus); err != nil {
			return nil, fmt.Errorf("scanning notification log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *session) FindSubscription(ctx context.Context, aggregatorID, siteID int64, resourceType int, resourceID int64) (*store.Subscription, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var sub store.Subscription
	err := s.tx.QueryRow(ctx, `
		SELECT subscription_id, aggregator_id, scoped_site_id, resource_type, resource_id
		FROM subscription
		WHERE aggregator_id = $1 AND scoped_site_id = $2 AND resource_type = $3 AND resource_id = $4
		LIMIT 1`, aggregatorID, siteID, resourceType, resourceID).Scan(
		&sub.SubscriptionID, &sub.AggregatorID, &sub.ScopedSiteID, &sub.ResourceType, &sub.ResourceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return &sub, nil
}

func (s *session) LatestControlResponse(ctx context.Context) (*store.ControlResponse, error) {
	return s.controlResponse(ctx, nil)
}

func (s *session) FindControlResponse(ctx context.Context, responseType *int) (*store.ControlResponse, error) {
	return s.controlResponse(ctx, responseType)
}

func (s *session) controlResponse(ctx context.Context, responseType *int) (*store.ControlResponse, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var resp store.ControlResponse
	err := s.tx.QueryRow(ctx, `
		SELECT dynamic_operating_envelope_response_id, dynamic_operating_envelope_id,
		       response_type, created_time
		FROM dynamic_operating_envelope_response
		WHERE $1::int IS NULL OR response_type = $1
		ORDER BY created_time DESC
		LIMIT 1`, responseType).Scan(
		&resp.ResponseID, &resp.ControlID, &resp.ResponseType, &resp.CreatedTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying control response: %w", err)
	}
	return &resp, nil
}

func (s *session) InsertSite(ctx context.Context, site store.Site) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.tx.Exec(ctx, `
		INSERT INTO site (aggregator_id, lfdi, sfdi, nmi, device_category,
		                  registration_pin, timezone_id, created_time, changed_time)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9)`,
		site.AggregatorID, site.LFDI, site.SFDI, site.NMI, site.DeviceCategory,
		site.RegistrationPIN, site.TimezoneID, site.CreatedTime, site.ChangedTime)
	if err != nil {
		return fmt.Errorf("inserting site: %w", err)
	}
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.tx.Commit(ctx)
}

func (s *session) Rollback(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	err := s.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// pow10Scan scans a nullable (value, multiplier) column pair.
type pow10Scan struct {
	value      *int64
	multiplier *int
}

func (p pow10Scan) toPow10() *store.Pow10 {
	if p.value == nil {
		return nil
	}
	multiplier := 0
	if p.multiplier != nil {
		multiplier = *p.multiplier
	}
	return &store.Pow10{Value: *p.value, Multiplier: multiplier}
}
