package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listserv/internal/domain"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line  string
		verb  string
		list  string
		args  []string
		value any
	}{
		{"help", VerbHelp, "", nil, nil},
		{"list Team@Lists.Example.com subscribe", VerbSubscribe, "team@lists.example.com", nil, nil},
		{"list team@x.io subscribe bob@y.io", VerbSubscribe, "team@x.io", []string{"bob@y.io"}, nil},
		{"LIST team@x.io Unsubscribe", VerbUnsubscribe, "team@x.io", nil, nil},
		{"list team@x.io accept-subscription abc.def", VerbAcceptSubscription, "team@x.io", []string{"abc.def"}, nil},
		{"list team@x.io accept-unsubscription-invitation tok", VerbAcceptUnsubscription, "team@x.io", []string{"tok"}, nil},
		{"list team@x.io setflag vacation", VerbSetFlag, "team@x.io", []string{"vacation"}, nil},
		{"list team@x.io unsetflag echo_post bob@y.io", VerbUnsetFlag, "team@x.io", []string{"echo_post", "bob@y.io"}, nil},
		{"list team@x.io set", VerbSet, "team@x.io", nil, nil},
		{"list team@x.io set moderated --true", VerbSet, "team@x.io", []string{"moderated"}, true},
		{"list team@x.io set --false moderated", VerbSet, "team@x.io", []string{"moderated"}, false},
		{"list team@x.io set max_message_kb --int 512", VerbSet, "team@x.io", []string{"max_message_kb"}, int64(512)},
		{"list team@x.io set subject_tag [team] news", VerbSet, "team@x.io", []string{"subject_tag"}, "[team] news"},
		{"list team@x.io members", VerbMembers, "team@x.io", nil, nil},
		{"list team@x.io mod approve m-1", VerbModApprove, "team@x.io", []string{"m-1"}, nil},
		{"list team@x.io mod reject m-2", VerbModReject, "team@x.io", []string{"m-2"}, nil},
		{"list team@x.io mod list", VerbModList, "team@x.io", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.verb, cmd.Verb)
			assert.Equal(t, tt.list, cmd.List)
			assert.Equal(t, tt.args, cmd.Args)
			assert.Equal(t, tt.value, cmd.Value)
		})
	}
}

func TestParseLineErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"hello there",
		"list team@x.io",
		"list team@x.io dance",
		"list team@x.io accept-subscription",
		"list team@x.io mod",
		"list team@x.io mod approve",
		"list team@x.io mod frobnicate x",
		"list team@x.io set max_message_kb --int lots",
		"list team@x.io set max_message_kb --int",
	} {
		_, err := ParseLine(line)
		assert.True(t, errors.Is(err, domain.ErrInvalidCommand), "line %q", line)
	}
}

func TestParseSubjectAndBody(t *testing.T) {
	cmd, err := Parse("Re: Fwd: list team@x.io members", "ignored")
	require.NoError(t, err)
	assert.Equal(t, VerbMembers, cmd.Verb)

	cmd, err = Parse("Re: Confirm your subscription to team@x.io", "\n\n  > list team@x.io accept-subscription tok\nthanks")
	require.NoError(t, err)
	assert.Equal(t, VerbAcceptSubscription, cmd.Verb)
	assert.Equal(t, "tok", cmd.Arg(0))
	assert.Equal(t, "", cmd.Arg(3))

	_, err = Parse("hi", "  \n \n")
	assert.True(t, errors.Is(err, domain.ErrInvalidCommand))
}
