package runas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/ruletick/internal/schedule"
)

var (
	alice = schedule.UserRef{UUID: "a-1", Name: "alice"}
	bob   = schedule.UserRef{UUID: "b-2", Name: "bob"}
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		want    schedule.UserRef
		wantErr error
	}{
		{
			name: "unset defaults to acting user",
			req:  Request{Acting: alice},
			want: alice,
		},
		{
			name: "self is allowed",
			req:  Request{Requested: alice, Acting: alice},
			want: alice,
		},
		{
			name: "self matched by uuid",
			req:  Request{Requested: schedule.UserRef{UUID: "a-1"}, Acting: alice},
			want: schedule.UserRef{UUID: "a-1"},
		},
		{
			name:    "other user without permission",
			req:     Request{Requested: bob, Acting: alice},
			wantErr: ErrPermission,
		},
		{
			name: "other user with manage users",
			req:  Request{Requested: bob, Acting: alice, CanManageUsers: true},
			want: bob,
		},
		{
			name:    "no acting user",
			req:     Request{Requested: bob},
			wantErr: ErrNoActingUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, got.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPermissionError(t *testing.T) {
	_, err := Resolve(Request{Requested: bob, Acting: alice})

	var permErr *PermissionError
	require.True(t, errors.As(err, &permErr))
	assert.Equal(t, alice, permErr.Acting)
	assert.Equal(t, bob, permErr.Requested)
	assert.Contains(t, err.Error(), `"bob"`)
	assert.Contains(t, err.Error(), "manage users permission")
}
