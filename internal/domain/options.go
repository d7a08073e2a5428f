package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OptionType is the declared value type of a list configuration option.
type OptionType string

const (
	OptionBool   OptionType = "bool"
	OptionInt    OptionType = "int"
	OptionString OptionType = "string"
)

// Configuration option names.
const (
	OptSubscriptionClosed         = "subscription_closed"
	OptUnsubscriptionClosed       = "unsubscription_closed"
	OptSubscriptionConfirmation   = "subscription_confirmation"
	OptUnsubscriptionConfirmation = "unsubscription_confirmation"
	OptModerated                  = "moderated"
	OptPrivateMembers             = "private_members"
	OptDigestOnly                 = "digest_only"
	OptReplyToList                = "reply_to_list"
	OptSubjectTag                 = "subject_tag"
	OptMaxMessageKB               = "max_message_kb"
	OptInvitationTTLHours         = "invitation_ttl_hours"
)

// Option describes one entry of the closed configuration option set.
type Option struct {
	Name        string
	Type        OptionType
	Default     any
	Description string
}

// Options is the complete, ordered set of valid list configuration options.
var Options = []Option{
	{OptSubscriptionClosed, OptionBool, false, "only moderators may subscribe addresses"},
	{OptUnsubscriptionClosed, OptionBool, false, "only moderators may unsubscribe addresses"},
	{OptSubscriptionConfirmation, OptionBool, false, "subscriptions require a confirmed invitation"},
	{OptUnsubscriptionConfirmation, OptionBool, false, "self-unsubscriptions require a confirmed invitation"},
	{OptModerated, OptionBool, false, "posts from members are held for moderation"},
	{OptPrivateMembers, OptionBool, false, "only moderators may view the member list"},
	{OptDigestOnly, OptionBool, false, "members receive digests only"},
	{OptReplyToList, OptionBool, false, "set Reply-To to the list address"},
	{OptSubjectTag, OptionString, "", "tag prefixed to delivered subjects"},
	{OptMaxMessageKB, OptionInt, int64(0), "posts above this size are held (0 = unlimited)"},
	{OptInvitationTTLHours, OptionInt, int64(72), "validity of confirmation invitations"},
}

// LookupOption finds an option by name.
func LookupOption(name string) (Option, bool) {
	for _, o := range Options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Coerce converts v to the option's declared type. Strings are parsed, and
// the representations produced by JSON decoding (float64, json.Number) are
// accepted so persisted configs round-trip.
func (o Option) Coerce(v any) (any, error) {
	switch o.Type {
	case OptionBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "yes", "on", "1":
				return true, nil
			case "false", "no", "off", "0":
				return false, nil
			}
		}
	case OptionInt:
		switch t := v.(type) {
		case int:
			return int64(t), nil
		case int64:
			return t, nil
		case int32:
			return int64(t), nil
		case float64:
			if t == math.Trunc(t) {
				return int64(t), nil
			}
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return n, nil
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return n, nil
			}
		}
	case OptionString:
		switch t := v.(type) {
		case string:
			return t, nil
		case fmt.Stringer:
			return t.String(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s expects %s, got %v", ErrInvalidOptionValue, o.Name, o.Type, v)
}

// ConfigValue pairs an option name with its effective value.
type ConfigValue struct {
	Option string
	Value  any
}

// ListConfig maps option names to typed values. Absent keys take the option
// default. Every stored key belongs to Options.
type ListConfig map[string]any

// Get returns the effective value of name, falling back to the default.
func (c ListConfig) Get(name string) any {
	opt, ok := LookupOption(name)
	if !ok {
		return nil
	}
	if v, ok := c[name]; ok {
		if coerced, err := opt.Coerce(v); err == nil {
			return coerced
		}
	}
	return opt.Default
}

// Bool returns a boolean option value.
func (c ListConfig) Bool(name string) bool {
	b, _ := c.Get(name).(bool)
	return b
}

// Int returns an integer option value.
func (c ListConfig) Int(name string) int64 {
	n, _ := c.Get(name).(int64)
	return n
}

// String returns a string option value.
func (c ListConfig) String(name string) string {
	s, _ := c.Get(name).(string)
	return s
}

// Values returns every option with its effective value, in declaration order.
func (c ListConfig) Values() []ConfigValue {
	out := make([]ConfigValue, 0, len(Options))
	for _, o := range Options {
		out = append(out, ConfigValue{Option: o.Name, Value: c.Get(o.Name)})
	}
	return out
}

// With validates and coerces value for name and returns a copy of the config
// carrying it. The receiver is never modified.
func (c ListConfig) With(name string, value any) (ListConfig, error) {
	opt, ok := LookupOption(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
	coerced, err := opt.Coerce(value)
	if err != nil {
		return nil, err
	}
	out := make(ListConfig, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[name] = coerced
	return out, nil
}

// Validate checks that every key is known and every value coerces.
func (c ListConfig) Validate() error {
	for k, v := range c {
		opt, ok := LookupOption(k)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownOption, k)
		}
		if _, err := opt.Coerce(v); err != nil {
			return err
		}
	}
	return nil
}
