package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/risk-orchestrator/internal/killswitch"
	"github.com/ducminhle1904/risk-orchestrator/internal/state"
)

const testSecret = "test-secret"

type fakeKillSwitch struct {
	mu        sync.Mutex
	modes     *state.Manager
	record    killswitch.Record
	activated int
	resetErr  error
}

func (f *fakeKillSwitch) Activate(ctx context.Context, reason, by string) (killswitch.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.record.Status == killswitch.StatusTriggered {
		return f.record, false
	}
	f.activated++
	f.record = killswitch.Record{ID: "ks-1", Status: killswitch.StatusTriggered, Trigger: killswitch.TriggerManual, Reason: reason, ActivatedBy: by}
	f.modes.Transition(ctx, state.ModeEmergency, reason, by)
	return f.record, true
}

func (f *fakeKillSwitch) Reset(ctx context.Context, confirmedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.record.Status != killswitch.StatusTriggered {
		return killswitch.ErrNotTriggered
	}
	if f.resetErr != nil {
		return f.resetErr
	}
	f.record.Status = killswitch.StatusArmed
	f.record.ResetBy = confirmedBy
	f.modes.Transition(ctx, state.ModePause, "kill switch reset", confirmedBy)
	return nil
}

func (f *fakeKillSwitch) Record() killswitch.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record
}

func (f *fakeKillSwitch) Triggered() bool {
	return f.Record().Status == killswitch.StatusTriggered
}

func newTestService() (*Service, *state.Manager, *fakeKillSwitch) {
	modes := state.NewManager(nil, nil, nil)
	ks := &fakeKillSwitch{modes: modes, record: killswitch.Record{Status: killswitch.StatusArmed}}
	return NewService(modes, ks, ServiceOptions{}), modes, ks
}

func TestRoleAuthorizer(t *testing.T) {
	a := NewRoleAuthorizer(nil)

	tests := []struct {
		name    string
		op      Operator
		perm    Permission
		wantErr error
	}{
		{"viewer reads status", Operator{ID: "v", Roles: []Role{RoleViewer}}, PermissionViewStatus, nil},
		{"viewer cannot pause", Operator{ID: "v", Roles: []Role{RoleViewer}}, PermissionPause, ErrForbidden},
		{"operator pauses", Operator{ID: "o", Roles: []Role{RoleOperator}}, PermissionPause, nil},
		{"operator activates kill switch", Operator{ID: "o", Roles: []Role{RoleOperator}}, PermissionActivateKillSwitch, nil},
		{"risk officer resumes", Operator{ID: "r", Roles: []Role{RoleRiskOfficer}}, PermissionResume, nil},
		{"operator cannot resume", Operator{ID: "o", Roles: []Role{RoleOperator}}, PermissionResume, ErrForbidden},
		{"operator cannot reset", Operator{ID: "o", Roles: []Role{RoleOperator}}, PermissionResetKillSwitch, ErrForbidden},
		{"risk officer resets", Operator{ID: "r", Roles: []Role{RoleRiskOfficer}}, PermissionResetKillSwitch, nil},
		{"admin has everything", Operator{ID: "a", Roles: []Role{"ADMIN"}}, PermissionResetKillSwitch, nil},
		{"anonymous", Operator{Roles: []Role{RoleAdmin}}, PermissionViewStatus, ErrUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Authorize(tt.op, tt.perm)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := IssueToken(testSecret, "alice", []Role{RoleRiskOfficer}, time.Hour)
	require.NoError(t, err)

	op, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", op.ID)
	assert.Equal(t, []Role{RoleRiskOfficer}, op.Roles)

	_, err = ParseToken("other-secret", token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	expired, err := IssueToken(testSecret, "alice", []Role{RoleAdmin}, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, expired)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestServicePauseResume(t *testing.T) {
	svc, modes, _ := newTestService()
	ctx := context.Background()
	officer := Operator{ID: "rita", Roles: []Role{RoleRiskOfficer}}

	require.Error(t, svc.Pause(ctx, officer, " "))

	require.NoError(t, svc.Pause(ctx, officer, "maintenance"))
	assert.Equal(t, state.ModePause, modes.Mode())
	assert.Equal(t, "operator:rita", modes.Current().Actor)

	// PAUSE -> PAUSE is not a legal transition
	assert.Error(t, svc.Pause(ctx, officer, "again"))

	require.NoError(t, svc.Resume(ctx, officer, "done"))
	assert.Equal(t, state.ModeNormal, modes.Mode())

	viewer := Operator{ID: "vic", Roles: []Role{RoleViewer}}
	assert.ErrorIs(t, svc.Pause(ctx, viewer, "nope"), ErrForbidden)
	assert.Equal(t, state.ModeNormal, modes.Mode())
}

func TestServiceKillSwitchBlocksResume(t *testing.T) {
	svc, modes, ks := newTestService()
	ctx := context.Background()
	officer := Operator{ID: "rita", Roles: []Role{RoleRiskOfficer}}

	rec, err := svc.ActivateKillSwitch(ctx, officer, "exchange outage")
	require.NoError(t, err)
	assert.Equal(t, killswitch.StatusTriggered, rec.Status)
	assert.Equal(t, state.ModeEmergency, modes.Mode())

	// second activation is idempotent
	_, err = svc.ActivateKillSwitch(ctx, officer, "again")
	require.NoError(t, err)
	assert.Equal(t, 1, ks.activated)

	assert.Error(t, svc.Resume(ctx, officer, "try"))
	assert.Error(t, svc.Pause(ctx, officer, "try"))

	require.NoError(t, svc.ResetKillSwitch(ctx, officer))
	assert.Equal(t, state.ModePause, modes.Mode())
	assert.Equal(t, "operator:rita", ks.Record().ResetBy)

	require.NoError(t, svc.Resume(ctx, officer, "all clear"))
	assert.Equal(t, state.ModeNormal, modes.Mode())
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, modes, _ := newTestService()
	router := NewRouter(svc, testSecret, RouterOptions{
		Health: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
	})

	officer, err := IssueToken(testSecret, "rita", []Role{RoleRiskOfficer}, time.Hour)
	require.NoError(t, err)
	viewer, err := IssueToken(testSecret, "vic", []Role{RoleViewer}, time.Hour)
	require.NoError(t, err)

	t.Run("health is public", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/v1/status", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/v1/status", "garbage", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("status", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/v1/status", viewer, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var st Status
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
		assert.Equal(t, state.ModeNormal, st.State.Mode)
		assert.Equal(t, killswitch.StatusArmed, st.KillSwitch.Status)
	})

	t.Run("viewer cannot pause", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/v1/pause", viewer, actionRequest{Reason: "x"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, state.ModeNormal, modes.Mode())
	})

	t.Run("pause needs a body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/pause", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer "+officer)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("pause and resume", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/v1/pause", officer, actionRequest{Reason: "deploy"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, state.ModePause, modes.Mode())

		w = doRequest(t, router, http.MethodPost, "/v1/pause", officer, actionRequest{Reason: "deploy"})
		assert.Equal(t, http.StatusConflict, w.Code)

		w = doRequest(t, router, http.MethodPost, "/v1/resume", officer, actionRequest{Reason: "done"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, state.ModeNormal, modes.Mode())
	})

	t.Run("reset without trigger conflicts", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/v1/kill-switch/reset", officer, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("kill switch activate and reset", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/v1/kill-switch/activate", officer, actionRequest{Reason: "manual stop"})
		require.Equal(t, http.StatusOK, w.Code)
		var rec killswitch.Record
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
		assert.Equal(t, killswitch.StatusTriggered, rec.Status)
		assert.Equal(t, "operator:rita", rec.ActivatedBy)
		assert.Equal(t, state.ModeEmergency, modes.Mode())

		w = doRequest(t, router, http.MethodPost, "/v1/kill-switch/reset", officer, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, state.ModePause, modes.Mode())
	})
}
