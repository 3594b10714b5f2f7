// Package effects supplies the concrete action and check handlers that sit
// behind the engines' dispatch tables: everything that reaches the reference
// server's admin API or inspects its database.
package effects

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/banksia-harness/banksia/internal/action"
	"github.com/banksia-harness/banksia/internal/admin"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/store"
	"github.com/banksia-harness/banksia/pkg/types"
)

// AdminAPI is the slice of the admin client the action handlers use.
type AdminAPI interface {
	CreateDERControl(ctx context.Context, req admin.DERControlRequest) error
	CreateDERProgram(ctx context.Context, req admin.DERProgramRequest) error
	SetDefaultDERControl(ctx context.Context, req admin.DefaultControlRequest) error
	CancelActiveDERControls(ctx context.Context) error
	SetCommsRate(ctx context.Context, req admin.CommsRateRequest) error
	UpdateRuntimeConfig(ctx context.Context, req admin.RuntimeConfigRequest) error
}

// Finisher packages a finished run into its downloadable artifact.
type Finisher interface {
	Finish(ctx context.Context, sess store.Session, proc *runner.ActiveTestProcedure, history []types.RequestEntry, now time.Time) ([]byte, error)
}

// RegisterActions installs every non-core action handler into the engine.
func RegisterActions(e *action.Engine, api AdminAPI, fin Finisher, log *slog.Logger) {
	h := &actionHandlers{api: api, fin: fin, log: log}

	e.Register(types.ActionFinishTest, h.finishTest)
	e.Register(types.ActionCreateDERControl, h.createDERControl)
	e.Register(types.ActionCreateDERProgram, h.createDERProgram)
	e.Register(types.ActionSetDefaultDERControl, h.setDefaultDERControl)
	e.Register(types.ActionCancelActiveControls, h.cancelActiveDERControls)
	e.Register(types.ActionSetCommsRate, h.setCommsRate)
	e.Register(types.ActionRegisterEndDevice, h.registerEndDevice)
	e.Register(types.ActionCommunicationsStatus, h.communicationsStatus)
	e.Register(types.ActionEDEVRegistrationLinks, h.edevRegistrationLinks)
}

type actionHandlers struct {
	api AdminAPI
	fin Finisher
	log *slog.Logger
}

func (h *actionHandlers) finishTest(ctx context.Context, ac *action.Context, _ map[string]any) error {
	if ac.Procedure.IsFinished() {
		return nil
	}
	data, err := h.fin.Finish(ctx, ac.Session, ac.Procedure, ac.History, ac.Now)
	if err != nil {
		return fmt.Errorf("packaging run artifact: %w", err)
	}
	ac.Procedure.FinishedZipData = data
	h.log.Info("test procedure finished", "procedure", ac.Procedure.Name, "run", ac.Procedure.RunID)
	return nil
}

func (h *actionHandlers) createDERControl(ctx context.Context, ac *action.Context, params map[string]any) error {
	req := admin.DERControlRequest{
		GroupID:          intOr(params, "group_id", 1),
		DurationSeconds:  intParamOr(params, "duration_seconds", 0),
		ImportLimitW:     floatParam(params, "opModImpLimW"),
		ExportLimitW:     floatParam(params, "opModExpLimW"),
		LoadLimitW:       floatParam(params, "opModLoadLimW"),
		GenerationLimitW: floatParam(params, "opModGenLimW"),
	}
	if req.DurationSeconds <= 0 {
		return fmt.Errorf("duration_seconds must be positive")
	}

	start, ok := params["start"].(time.Time)
	if !ok {
		return fmt.Errorf("start did not resolve to a timestamp")
	}
	req.StartTime = start

	if rand := floatParam(params, "randomizeStart"); rand != nil {
		v := int(*rand)
		req.RandomizeStart = &v
	}

	if err := h.api.CreateDERControl(ctx, req); err != nil {
		return err
	}
	if alias, ok := params["alias"].(string); ok {
		ac.Procedure.ResourceAnnotations[alias] = fmt.Sprintf("control group=%d start=%s", req.GroupID, start.Format(time.RFC3339))
	}
	return nil
}

func (h *actionHandlers) createDERProgram(ctx context.Context, _ *action.Context, params map[string]any) error {
	return h.api.CreateDERProgram(ctx, admin.DERProgramRequest{
		Primacy: intParamOr(params, "primacy", 0),
	})
}

func (h *actionHandlers) setDefaultDERControl(ctx context.Context, _ *action.Context, params map[string]any) error {
	return h.api.SetDefaultDERControl(ctx, admin.DefaultControlRequest{
		ImportLimitW:     floatParam(params, "opModImpLimW"),
		ExportLimitW:     floatParam(params, "opModExpLimW"),
		LoadLimitW:       floatParam(params, "opModLoadLimW"),
		GenerationLimitW: floatParam(params, "opModGenLimW"),
	})
}

func (h *actionHandlers) cancelActiveDERControls(ctx context.Context, _ *action.Context, _ map[string]any) error {
	return h.api.CancelActiveDERControls(ctx)
}

func (h *actionHandlers) setCommsRate(ctx context.Context, _ *action.Context, params map[string]any) error {
	return h.api.SetCommsRate(ctx, admin.CommsRateRequest{
		DcapPollSeconds:     intParamPtr(params, "dcap_poll_seconds"),
		EdevListPollSeconds: intParamPtr(params, "edev_list_poll_seconds"),
		FsaListPollSeconds:  intParamPtr(params, "fsa_list_poll_seconds"),
		DerpListPollSeconds: intParamPtr(params, "derp_list_poll_seconds"),
		DercListPollSeconds: intParamPtr(params, "derc_list_poll_seconds"),
		MupPostSeconds:      intParamPtr(params, "mup_post_seconds"),
	})
}

// registerEndDevice registers the client's site out-of-band, for procedures
// that test behaviour against a pre-registered EndDevice.
func (h *actionHandlers) registerEndDevice(ctx context.Context, ac *action.Context, params map[string]any) error {
	proc := ac.Procedure
	site := store.Site{
		AggregatorID: proc.AggregatorID,
		LFDI:         proc.ClientLFDI,
		SFDI:         proc.ClientSFDI,
		CreatedTime:  ac.Now,
		ChangedTime:  ac.Now,
	}
	if nmi, ok := params["nmi"].(string); ok {
		site.NMI = nmi
	}
	if pin := intParamPtr(params, "registration_pin"); pin != nil {
		site.RegistrationPIN = *pin
	}
	return ac.Session.InsertSite(ctx, site)
}

// communicationsStatus toggles the simulated outage: while communications
// are disabled the proxy answers 500 without forwarding.
func (h *actionHandlers) communicationsStatus(_ context.Context, ac *action.Context, params map[string]any) error {
	enabled, ok := params["enabled"].(bool)
	if !ok {
		return fmt.Errorf("enabled did not resolve to a boolean")
	}
	ac.Procedure.CommunicationsDisabled = !enabled
	h.log.Info("communications status changed", "enabled", enabled)
	return nil
}

func (h *actionHandlers) edevRegistrationLinks(ctx context.Context, _ *action.Context, params map[string]any) error {
	enabled, ok := params["enabled"].(bool)
	if !ok {
		return fmt.Errorf("enabled did not resolve to a boolean")
	}
	return h.api.UpdateRuntimeConfig(ctx, admin.RuntimeConfigRequest{EdevRegistrationLinks: &enabled})
}

func floatParam(params map[string]any, key string) *float64 {
	switch v := params[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	default:
		return nil
	}
}

func intParamPtr(params map[string]any, key string) *int {
	if f := floatParam(params, key); f != nil {
		v := int(*f)
		return &v
	}
	return nil
}

func intParamOr(params map[string]any, key string, fallback int) int {
	if v := intParamPtr(params, key); v != nil {
		return *v
	}
	return fallback
}

func intOr(params map[string]any, key string, fallback int64) int64 {
	if f := floatParam(params, key); f != nil {
		return int64(*f)
	}
	return fallback
}
