package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionCoerce(t *testing.T) {
	tests := []struct {
		name    string
		option  string
		in      any
		want    any
		wantErr bool
	}{
		{"bool native", OptModerated, true, true, false},
		{"bool string", OptModerated, " Yes ", true, false},
		{"bool off", OptModerated, "off", false, false},
		{"bool garbage", OptModerated, "maybe", nil, true},
		{"bool from int", OptModerated, 1, nil, true},
		{"int native", OptMaxMessageKB, 12, int64(12), false},
		{"int json float", OptMaxMessageKB, float64(40), int64(40), false},
		{"int fractional", OptMaxMessageKB, 1.5, nil, true},
		{"int json number", OptMaxMessageKB, json.Number("7"), int64(7), false},
		{"int string", OptInvitationTTLHours, "24", int64(24), false},
		{"int bad string", OptInvitationTTLHours, "a day", nil, true},
		{"string", OptSubjectTag, "[team]", "[team]", false},
		{"string from bool", OptSubjectTag, true, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, ok := LookupOption(tt.option)
			require.True(t, ok)
			got, err := opt.Coerce(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidOptionValue))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListConfigDefaults(t *testing.T) {
	var c ListConfig
	assert.False(t, c.Bool(OptModerated))
	assert.Equal(t, int64(72), c.Int(OptInvitationTTLHours))
	assert.Equal(t, "", c.String(OptSubjectTag))
	assert.Nil(t, c.Get("no_such_option"))

	values := c.Values()
	require.Len(t, values, len(Options))
	assert.Equal(t, OptSubscriptionClosed, values[0].Option)
	assert.Equal(t, OptInvitationTTLHours, values[len(values)-1].Option)
}

func TestListConfigWith(t *testing.T) {
	base := ListConfig{OptModerated: true}

	next, err := base.With(OptMaxMessageKB, "256")
	require.NoError(t, err)
	assert.Equal(t, int64(256), next.Int(OptMaxMessageKB))
	assert.True(t, next.Bool(OptModerated))
	_, touched := base[OptMaxMessageKB]
	assert.False(t, touched, "receiver must not change")

	_, err = base.With("colour", "blue")
	assert.True(t, errors.Is(err, ErrUnknownOption))

	_, err = base.With(OptModerated, "sometimes")
	assert.True(t, errors.Is(err, ErrInvalidOptionValue))
}

func TestListConfigValidate(t *testing.T) {
	assert.NoError(t, ListConfig{OptSubjectTag: "x", OptMaxMessageKB: float64(3)}.Validate())
	assert.True(t, errors.Is(ListConfig{"bogus": 1}.Validate(), ErrUnknownOption))
	assert.True(t, errors.Is(ListConfig{OptReplyToList: "nah"}.Validate(), ErrInvalidOptionValue))
}

func TestListRoles(t *testing.T) {
	l := &List{
		Address:    "team@lists.example.com",
		Owner:      "Boss@Example.com",
		Moderators: []string{"mod@example.com", "boss@example.com"},
	}
	assert.True(t, l.IsOwner(" boss@example.com"))
	assert.False(t, l.IsOwner("mod@example.com"))
	assert.True(t, l.IsModerator("MOD@example.com"))
	assert.Equal(t, []string{"boss@example.com", "mod@example.com"}, l.Staff())

	l.Config = ListConfig{OptSubscriptionClosed: true}
	assert.True(t, l.SubscriptionClosed())
	assert.False(t, l.UnsubscriptionClosed())
}

func TestValidAddress(t *testing.T) {
	for addr, want := range map[string]bool{
		"a@example.com":     true,
		"list@lists.ex.org": true,
		"@example.com":      false,
		"a@":                false,
		"a@localhost":       false,
		"a b@example.com":   false,
		"<a@example.com>":   false,
		"plain":             false,
	} {
		assert.Equal(t, want, ValidAddress(addr), addr)
	}
}

func TestMembershipHelpers(t *testing.T) {
	assert.Equal(t, MemberNone, StateOf(nil))
	assert.Equal(t, MemberNone, StateOf(&Membership{}))
	assert.Equal(t, MemberSubscribed, StateOf(&Membership{State: MemberSubscribed}))

	var m *Membership
	assert.False(t, m.Flag(FlagVacation))
	m = &Membership{Flags: map[string]bool{FlagVacation: true}}
	assert.True(t, m.Flag(FlagVacation))

	f, ok := LookupFlag(FlagModerated)
	require.True(t, ok)
	assert.True(t, f.ModeratorOnly)
	_, ok = LookupFlag("loud")
	assert.False(t, ok)
}

func TestRole(t *testing.T) {
	assert.Equal(t, "owner", RoleOwner.String())
	assert.Equal(t, "unknown", Role(42).String())
	assert.True(t, RoleModerator.IsStaff())
	assert.False(t, RoleMember.IsStaff())
}
