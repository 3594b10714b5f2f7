package variable

import (
	"context"
	"time"

	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/pkg/types"
)

// settingField projects one Pow10 column off the latest DERSetting row.
func settingField(name types.NamedVariable, pick func(*store.DERSetting) *store.Pow10, negate bool) namedResolver {
	return func(ctx context.Context, sess store.Session, _ time.Time) (any, error) {
		row, err := sess.LatestDERSetting(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, unresolvable("%s: no DERSetting has been submitted", name)
		}
		field := pick(row)
		if field == nil {
			return nil, unresolvable("%s: latest DERSetting does not set this field", name)
		}
		v := field.Float()
		if negate {
			v = -v
		}
		return v, nil
	}
}

// ratingField projects one Pow10 column off the latest DERCapability row.
func ratingField(name types.NamedVariable, pick func(*store.DERRating) *store.Pow10, negate bool) namedResolver {
	return func(ctx context.Context, sess store.Session, _ time.Time) (any, error) {
		row, err := sess.LatestDERRating(ctx)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, unresolvable("%s: no DERCapability has been submitted", name)
		}
		field := pick(row)
		if field == nil {
			return nil, unresolvable("%s: latest DERCapability does not set this field", name)
		}
		v := field.Float()
		if negate {
			v = -v
		}
		return v, nil
	}
}

func namedResolvers() map[types.NamedVariable]namedResolver {
	return map[types.NamedVariable]namedResolver{
		types.VarNow: func(_ context.Context, _ store.Session, now time.Time) (any, error) {
			return now, nil
		},

		types.VarSetMaxW:   settingField(types.VarSetMaxW, func(s *store.DERSetting) *store.Pow10 { return s.MaxW }, false),
		types.VarSetMaxVA:  settingField(types.VarSetMaxVA, func(s *store.DERSetting) *store.Pow10 { return s.MaxVA }, false),
		types.VarSetMaxVar: settingField(types.VarSetMaxVar, func(s *store.DERSetting) *store.Pow10 { return s.MaxVar }, false),
		types.VarSetMaxVarNeg: settingField(types.VarSetMaxVarNeg, func(s *store.DERSetting) *store.Pow10 {
			return s.MaxVarNeg
		}, false),
		types.VarSetMaxChargeRateW: settingField(types.VarSetMaxChargeRateW, func(s *store.DERSetting) *store.Pow10 {
			return s.MaxChargeRateW
		}, false),
		types.VarSetMaxDischargeRateW: settingField(types.VarSetMaxDischargeRateW, func(s *store.DERSetting) *store.Pow10 {
			return s.MaxDischargeRateW
		}, false),
		types.VarSetMaxWh: settingField(types.VarSetMaxWh, func(s *store.DERSetting) *store.Pow10 { return s.MaxWh }, false),
		types.VarSetMinPFOverExcited: settingField(types.VarSetMinPFOverExcited, func(s *store.DERSetting) *store.Pow10 {
			return s.MinPFOverExcited
		}, false),
		types.VarSetMinPFUnderExcited: settingField(types.VarSetMinPFUnderExcited, func(s *store.DERSetting) *store.Pow10 {
			return s.MinPFUnderExcited
		}, false),

		types.VarRtgMaxW:   ratingField(types.VarRtgMaxW, func(r *store.DERRating) *store.Pow10 { return r.MaxW }, false),
		types.VarRtgMaxVA:  ratingField(types.VarRtgMaxVA, func(r *store.DERRating) *store.Pow10 { return r.MaxVA }, false),
		types.VarRtgMaxVar: ratingField(types.VarRtgMaxVar, func(r *store.DERRating) *store.Pow10 { return r.MaxVar }, false),
		types.VarRtgMaxChargeRateW: ratingField(types.VarRtgMaxChargeRateW, func(r *store.DERRating) *store.Pow10 {
			return r.MaxChargeRateW
		}, false),
		types.VarRtgMaxDischargeRateW: ratingField(types.VarRtgMaxDischargeRateW, func(r *store.DERRating) *store.Pow10 {
			return r.MaxDischargeRateW
		}, false),
		types.VarNegRtgMaxChargeRateW: ratingField(types.VarNegRtgMaxChargeRateW, func(r *store.DERRating) *store.Pow10 {
			return r.MaxChargeRateW
		}, true),
		types.VarNegRtgMaxDischargeRateW: ratingField(types.VarNegRtgMaxDischargeRateW, func(r *store.DERRating) *store.Pow10 {
			return r.MaxDischargeRateW
		}, true),
	}
}
