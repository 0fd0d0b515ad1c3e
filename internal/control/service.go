package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	coreerrors "github.com/ducminhle1904/risk-orchestrator/internal/errors"
	"github.com/ducminhle1904/risk-orchestrator/internal/killswitch"
	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
	"github.com/ducminhle1904/risk-orchestrator/internal/portfolio"
	"github.com/ducminhle1904/risk-orchestrator/internal/reconcile"
	"github.com/ducminhle1904/risk-orchestrator/internal/safety"
	"github.com/ducminhle1904/risk-orchestrator/internal/state"
)

const component = "control"

// StateControl is the part of the state manager the control surface drives
type StateControl interface {
	Current() state.SystemState
	Transition(ctx context.Context, target state.Mode, reason, actor string) bool
}

// KillSwitchControl is the part of the kill switch the control surface drives
type KillSwitchControl interface {
	Activate(ctx context.Context, reason, by string) (killswitch.Record, bool)
	Reset(ctx context.Context, confirmedBy string) error
	Record() killswitch.Record
	Triggered() bool
}

// Status is the operator view of the core
type Status struct {
	State              state.SystemState            `json:"state"`
	KillSwitch         killswitch.Record            `json:"kill_switch"`
	Breakers           []safety.CircuitBreakerStats `json:"breakers"`
	Portfolio          *portfolio.Metrics           `json:"portfolio,omitempty"`
	LastReconciliation *reconcile.Result            `json:"last_reconciliation,omitempty"`
	GeneratedAt        time.Time                    `json:"generated_at"`
}

// Service implements the manual control surface. Every action requires an
// operator the Authorizer accepts.
type Service struct {
	modes      StateControl
	killSwitch KillSwitchControl
	breakers   *safety.Registry
	metrics    killswitch.MetricsSource
	reconciler *reconcile.Reconciler
	authorizer Authorizer
	log        *logger.Logger
}

type ServiceOptions struct {
	Breakers   *safety.Registry
	Metrics    killswitch.MetricsSource
	Reconciler *reconcile.Reconciler
	Authorizer Authorizer
	Logger     *logger.Logger
}

func NewService(modes StateControl, ks KillSwitchControl, opts ServiceOptions) *Service {
	if opts.Authorizer == nil {
		opts.Authorizer = NewRoleAuthorizer(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Service{
		modes:      modes,
		killSwitch: ks,
		breakers:   opts.Breakers,
		metrics:    opts.Metrics,
		reconciler: opts.Reconciler,
		authorizer: opts.Authorizer,
		log:        opts.Logger.With(component),
	}
}

func (s *Service) authorize(op Operator, perm Permission) error {
	if err := s.authorizer.Authorize(op, perm); err != nil {
		s.log.Warning("denied %s for %q: %v", perm, op.ID, err)
		return err
	}
	return nil
}

func actor(op Operator) string {
	return "operator:" + op.ID
}

func requireReason(operation, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return coreerrors.NewValidationError(component, operation, "reason is required")
	}
	return nil
}

// Pause stops new entries. Refused while the kill switch is triggered.
func (s *Service) Pause(ctx context.Context, op Operator, reason string) error {
	if err := s.authorize(op, PermissionPause); err != nil {
		return err
	}
	if err := requireReason("pause", reason); err != nil {
		return err
	}
	if s.killSwitch != nil && s.killSwitch.Triggered() {
		return coreerrors.NewValidationError(component, "pause", "kill switch is triggered, reset it instead")
	}
	return s.transition(ctx, op, state.ModePause, "pause", reason)
}

// Resume returns the system to NORMAL
func (s *Service) Resume(ctx context.Context, op Operator, reason string) error {
	if err := s.authorize(op, PermissionResume); err != nil {
		return err
	}
	if err := requireReason("resume", reason); err != nil {
		return err
	}
	if s.killSwitch != nil && s.killSwitch.Triggered() {
		return coreerrors.NewValidationError(component, "resume", "kill switch is triggered, reset it first")
	}
	return s.transition(ctx, op, state.ModeNormal, "resume", reason)
}

func (s *Service) transition(ctx context.Context, op Operator, target state.Mode, operation, reason string) error {
	current := s.modes.Current().Mode
	if !s.modes.Transition(ctx, target, reason, actor(op)) {
		return coreerrors.NewValidationError(component, operation,
			fmt.Sprintf("transition %s -> %s not allowed", current, target))
	}
	s.log.Info("%s moved system %s -> %s: %s", op.ID, current, target, reason)
	return nil
}

// ActivateKillSwitch fires the kill switch. A second activation returns the existing record.
func (s *Service) ActivateKillSwitch(ctx context.Context, op Operator, reason string) (killswitch.Record, error) {
	if err := s.authorize(op, PermissionActivateKillSwitch); err != nil {
		return killswitch.Record{}, err
	}
	if err := requireReason("activate_kill_switch", reason); err != nil {
		return killswitch.Record{}, err
	}
	rec, fired := s.killSwitch.Activate(ctx, reason, actor(op))
	if !fired {
		s.log.Info("%s activated an already triggered kill switch", op.ID)
	}
	return rec, nil
}

// ResetKillSwitch re-arms the kill switch; the system lands in PAUSE
func (s *Service) ResetKillSwitch(ctx context.Context, op Operator) error {
	if err := s.authorize(op, PermissionResetKillSwitch); err != nil {
		return err
	}
	return s.killSwitch.Reset(ctx, actor(op))
}

// Status returns the operator view
func (s *Service) Status(_ context.Context, op Operator) (Status, error) {
	if err := s.authorize(op, PermissionViewStatus); err != nil {
		return Status{}, err
	}
	return s.Snapshot(), nil
}

// Snapshot builds the status view without authorization, for health checks and reports
func (s *Service) Snapshot() Status {
	st := Status{
		State:       s.modes.Current(),
		GeneratedAt: time.Now(),
	}
	if s.killSwitch != nil {
		st.KillSwitch = s.killSwitch.Record()
	}
	if s.breakers != nil {
		st.Breakers = s.breakers.Snapshot()
	}
	if s.metrics != nil {
		m := s.metrics.Metrics()
		st.Portfolio = &m
	}
	if s.reconciler != nil {
		if res, ok := s.reconciler.Last(); ok {
			st.LastReconciliation = &res
		}
	}
	return st
}
