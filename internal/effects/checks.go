package effects

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/banksia-harness/banksia/internal/check"
	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/pkg/types"
)

// RegisterChecks installs every concrete check handler into the engine.
func RegisterChecks(e *check.Engine, log *slog.Logger) {
	h := &checkHandlers{log: log}

	e.Register(types.CheckAllStepsComplete, h.allStepsComplete)
	e.Register(types.CheckEndDeviceContents, h.endDeviceContents)
	e.Register(types.CheckDERSettingsContents, h.derSettingsContents)
	e.Register(types.CheckDERCapabilityContents, h.derCapabilityContents)
	e.Register(types.CheckDERStatusContents, h.derStatusContents)
	e.Register(types.CheckAllNotificationsTransmitted, h.allNotificationsTransmitted)
	e.Register(types.CheckSubscriptionContents, h.subscriptionContents)
	e.Register(types.CheckResponseContents, h.responseContents)

	e.Register(types.CheckReadingsSiteActivePower, h.readings(store.SiteReading, store.UomRealPowerWatt, "site active power"))
	e.Register(types.CheckReadingsSiteReactivePower, h.readings(store.SiteReading, store.UomReactivePowerVar, "site reactive power"))
	e.Register(types.CheckReadingsSiteVoltage, h.readings(store.SiteReading, store.UomVoltage, "site voltage"))
	e.Register(types.CheckReadingsDERActivePower, h.readings(store.DeviceReading, store.UomRealPowerWatt, "DER active power"))
	e.Register(types.CheckReadingsDERReactivePower, h.readings(store.DeviceReading, store.UomReactivePowerVar, "DER reactive power"))
	e.Register(types.CheckReadingsDERVoltage, h.readings(store.DeviceReading, store.UomVoltage, "DER voltage"))
}

type checkHandlers struct {
	log *slog.Logger
}

// allStepsComplete passes when every step has resolved. Steps named in the
// ignored_steps parameter are exempt.
func (h *checkHandlers) allStepsComplete(_ context.Context, cc *check.Context, params map[string]any) (types.CheckResult, error) {
	ignored := stringSet(params["ignored_steps"])

	var sc check.SoftChecker
	for _, name := range cc.Procedure.Definition.StepOrder {
		if ignored[name] {
			continue
		}
		status := cc.Procedure.StepStatus[name].Status()
		sc.Assert(status == types.StepResolved, "step %s is %s", name, status)
	}
	result := sc.Result()
	if result.Passed {
		result.Description = "all steps are complete"
	}
	return result, nil
}

// endDeviceContents verifies the client registered an EndDevice matching its
// certificate identity.
func (h *checkHandlers) endDeviceContents(ctx context.Context, cc *check.Context, params map[string]any) (types.CheckResult, error) {
	site, err := cc.Session.ActiveSite(ctx)
	if err != nil {
		return types.CheckResult{}, err
	}
	if site == nil {
		return types.CheckResult{Passed: false, Description: "no EndDevice has been registered"}, nil
	}

	var sc check.SoftChecker
	if cc.Procedure.CertificateType == types.CertDevice {
		sc.Assert(site.LFDI == cc.Procedure.ClientLFDI,
			"EndDevice LFDI %s does not match the client certificate LFDI %s", site.LFDI, cc.Procedure.ClientLFDI)
	}
	if wantNMI, ok := params["has_connection_point_id"].(bool); ok && wantNMI {
		sc.Assert(site.NMI != "", "EndDevice has no ConnectionPoint id")
	}
	result := sc.Result()
	if result.Passed {
		result.Description = fmt.Sprintf("EndDevice %d registered with LFDI %s", site.SiteID, site.LFDI)
	}
	return result, nil
}

// derSettingsContents verifies the active site submitted DERSettings, with
// optional field expectations.
func (h *checkHandlers) derSettingsContents(ctx context.Context, cc *check.Context, params map[string]any) (types.CheckResult, error) {
	site, err := cc.Session.ActiveSite(ctx)
	if err != nil {
		return types.CheckResult{}, err
	}
	if site == nil {
		return types.CheckResult{Passed: false, Description: "no EndDevice has been registered"}, nil
	}
	setting, err := cc.Session.DERSettingForSite(ctx, site.SiteID)
	if err != nil {
		return types.CheckResult{}, err
	}
	if setting == nil {
		return types.CheckResult{Passed: false, Description: "no DERSettings have been submitted"}, nil
	}

	var sc check.SoftChecker
	if want := intParamPtr(params, "setGradW"); want != nil {
		if setting.GradW == nil {
			sc.Failf("setGradW is not set, expected %d", *want)
		} else {
			sc.Assert(int(*setting.GradW) == *want, "setGradW is %d, expected %d", *setting.GradW, *want)
		}
	}
	if want := floatParam(params, "setMaxW"); want != nil {
		if setting.MaxW == nil {
			sc.Failf("setMaxW is not set, expected %v", *want)
		} else {
			sc.Assert(setting.MaxW.Float() == *want, "setMaxW is %v, expected %v", setting.MaxW.Float(), *want)
		}
	}
	result := sc.Result()
	if result.Passed {
		result.Description = "DERSettings submitted"
	}
	return result, nil
}

// derCapabilityContents verifies the active site submitted a DERCapability.
func (h *checkHandlers) derCapabilityContents(ctx context.Context, cc *check.Context, params map[string]any) (types.CheckResult, error) {
	site, err := cc.Session.ActiveSite(ctx)
	if err != nil {
		return types.CheckResult{}, err
	}
	if site == nil {
		return types.CheckResult{Passed: false, Description: "no EndDevice has been registered"}, nil
	}
	rating, err := cc.Session.DERRatingForSite(ctx, site.SiteID)
	if err != nil {
		return types.CheckResult{}, err
	}
	if rating == nil {
		return types.CheckResult{Passed: false, Description: "no DERCapability has been submitted"}, nil
	}

	var sc check.SoftChecker
	if want := floatParam(params, "rtgMaxW"); want != nil {
		if rating.MaxW == nil {
			sc.Failf("rtgMaxW is not set, expected %v", *want)
		} else {
			sc.Assert(rating.MaxW.Float() == *want, "rtgMaxW is %v, expected %v", rating.MaxW.Float(), *want)
		}
	}
	result := sc.Result()
	if result.Passed {
		result.Description = "DERCapability submitted"
	}
	return result, nil
}

// derStatusContents verifies the active site submitted a DERStatus, with
// optional expectations on its connect and operational mode fields.
func (h *checkHandlers) derStatusContents(ctx context.Context, cc *check.Context, params map[string]any) (types.CheckResult, error) {
	site, err := cc.Session.ActiveSite(ctx)
	if err != nil {
		return types.CheckResult{}, err
	}
	if site == nil {
		return types.CheckResult{Passed: false, Description: "no EndDevice has been registered"}, nil
	}
	status, err := cc.Session.DERStatusForSite(ctx, site.SiteID)
	if err != nil {
		return types.CheckResult{}, err
	}
	if status == nil {
		return types.CheckResult{Passed: false, Description: "no DERStatus has been submitted"}, nil
	}

	var sc check.SoftChecker
	if want := intParamPtr(params, "genConnectStatus"); want != nil {
		if status.GeneratorConnectStatus == nil {
			sc.Failf("genConnectStatus is not set, expected %d", *want)
		} else {
			sc.Assert(*status.GeneratorConnectStatus == *want, "genConnectStatus is %d, expected %d", *status.GeneratorConnectStatus, *want)
		}
	}
	if want := intParamPtr(params, "operationalModeStatus"); want != nil {
		if status.OperationalModeStatus == nil {
			sc.Failf("operationalModeStatus is not set, expected %d", *want)
		} else {
			sc.Assert(*status.OperationalModeStatus == *want, "operationalModeStatus is %d, expected %d", *status.OperationalModeStatus, *want)
		}
	}
	result := sc.Result()
	if result.Passed {
		result.Description = "DERStatus submitted"
	}
	return result, nil
}

// readings builds a handler verifying the client registered the reading
// classification and posted at least minimum_count readings (default 1).
func (h *checkHandlers) readings(location store.ReadingLocation, uom int, label string) check.Handler {
	return func(ctx context.Context, cc *check.Context, params map[string]any) (types.CheckResult, error) {
		site, err := cc.Session.ActiveSite(ctx)
		if err != nil {
			return types.CheckResult{}, err
		}
		if site == nil {
			return types.CheckResult{Passed: false, Description: "no EndDevice has been registered"}, nil
		}

		readingTypes, err := cc.Session.ReadingTypes(ctx, site.SiteID, location, uom, store.KindPower, store.QualifierAverage)
		if err != nil {
			return types.CheckResult{}, err
		}
		if len(readingTypes) == 0 {
			return types.CheckResult{Passed: false, Description: fmt.Sprintf("no %s MirrorUsagePoint has been registered", label)}, nil
		}

		ids := make([]int64, len(readingTypes))
		for i, rt := range readingTypes {
			ids[i] = rt.ReadingTypeID
		}
		counts, err := cc.Session.ReadingCounts(ctx, ids)
		if err != nil {
			return types.CheckResult{}, err
		}
		total := 0
		for _, n := range counts {
			total += n
		}

		minimum := intParamOr(params, "minimum_count", 1)
		if total < minimum {
			return types.CheckResult{
				Passed:      false,
				Description: fmt.Sprintf("%d %s readings posted, expected at least %d", total, label, minimum),
			}, nil
		}
		return types.CheckResult{
			Passed:      true,
			Description: fmt.Sprintf("%d %s readings posted", total, label),
		}, nil
	}
}

// allNotificationsTransmitted passes when every attempted subscription
// notification got a 2xx from the client.
func (h *checkHandlers) allNotificationsTransmitted(ctx context.Context, cc *check.Context, _ map[string]any) (types.CheckResult, error) {
	logs, err := cc.Session.NotificationLogs(ctx)
	if err != nil {
		return types.CheckResult{}, err
	}

	var sc check.SoftChecker
	for _, l := range logs {
		sc.Assert(l.HTTPStatus >= 200 && l.HTTPStatus < 300,
			"notification for subscription %d returned HTTP %d", l.SubscriptionID, l.HTTPStatus)
	}
	result := sc.Result()
	if result.Passed {
		result.Description = fmt.Sprintf("all %d notifications transmitted", len(logs))
	}
	return result, nil
}

// subscriptionContents verifies the client subscribed to the resource named
// by the parameters, scoped to the active site.
func (h *checkHandlers) subscriptionContents(ctx context.Context, cc *check.Context, params map[string]any) (types.CheckResult, error) {
	resourceType := intParamPtr(params, "resource_type")
	if resourceType == nil {
		return types.CheckResult{}, fmt.Errorf("missing required parameter %q", "resource_type")
	}

	site, err := cc.Session.ActiveSite(ctx)
	if err != nil {
		return types.CheckResult{}, err
	}
	if site == nil {
		return types.CheckResult{Passed: false, Description: "no EndDevice has been registered"}, nil
	}

	resourceID := int64(intParamOr(params, "resource_id", int(site.SiteID)))
	sub, err := cc.Session.FindSubscription(ctx, cc.Procedure.AggregatorID, site.SiteID, *resourceType, resourceID)
	if err != nil {
		return types.CheckResult{}, err
	}
	if sub == nil {
		return types.CheckResult{
			Passed:      false,
			Description: fmt.Sprintf("no subscription found for resource type %d id %d", *resourceType, resourceID),
		}, nil
	}
	return types.CheckResult{
		Passed:      true,
		Description: fmt.Sprintf("subscription %d covers resource type %d", sub.SubscriptionID, *resourceType),
	}, nil
}

// responseContents verifies the client posted a DERControl response,
// optionally of a specific response type.
func (h *checkHandlers) responseContents(ctx context.Context, cc *check.Context, params map[string]any) (types.CheckResult, error) {
	wanted := intParamPtr(params, "response_type")
	resp, err := cc.Session.FindControlResponse(ctx, wanted)
	if err != nil {
		return types.CheckResult{}, err
	}
	if resp == nil {
		if wanted != nil {
			return types.CheckResult{
				Passed:      false,
				Description: fmt.Sprintf("no control response of type %d has been posted", *wanted),
			}, nil
		}
		return types.CheckResult{Passed: false, Description: "no control response has been posted"}, nil
	}
	return types.CheckResult{
		Passed:      true,
		Description: fmt.Sprintf("control response %d of type %d posted", resp.ResponseID, resp.ResponseType),
	}, nil
}

func stringSet(raw any) map[string]bool {
	set := make(map[string]bool)
	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			set[s] = true
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				set[s] = true
			}
		}
	}
	return set
}
