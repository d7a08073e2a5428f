// Package command parses and executes the commands members mail to the
// command address, e.g.
//
//	list team@lists.example.com subscribe
//	list team@lists.example.com set subject_tag [team]
//	list team@lists.example.com mod approve 5f0c...
//
// The command line is taken from the subject, or from the first non-blank
// body line when the subject is not a command.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ignite/listserv/internal/domain"
)

// Verbs.
const (
	VerbHelp                 = "help"
	VerbSubscribe            = "subscribe"
	VerbUnsubscribe          = "unsubscribe"
	VerbAcceptSubscription   = "accept-subscription"
	VerbAcceptUnsubscription = "accept-unsubscription"
	VerbSetFlag              = "setflag"
	VerbUnsetFlag            = "unsetflag"
	VerbSet                  = "set"
	VerbMembers              = "members"
	VerbModApprove           = "mod approve"
	VerbModReject            = "mod reject"
	VerbModList              = "mod list"
)

var aliases = map[string]string{
	"accept-subscription-invitation":   VerbAcceptSubscription,
	"accept-unsubscription-invitation": VerbAcceptUnsubscription,
}

// Command is one parsed command line.
type Command struct {
	Line string
	List string
	Verb string
	Args []string
	// Value is the typed value of a set command: a --true/--false/--int
	// switch, or the literal remainder of the line. Nil when absent.
	Value any
}

// Arg returns the i-th positional argument or "".
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// Parse extracts the command from a message subject and body.
func Parse(subject, body string) (Command, error) {
	if line := stripReply(subject); isCommand(line) {
		return ParseLine(line)
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">"))
		if line == "" {
			continue
		}
		return ParseLine(line)
	}
	return Command{}, fmt.Errorf("%w: no command found", domain.ErrInvalidCommand)
}

// ParseLine parses a single command line.
func ParseLine(line string) (Command, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", domain.ErrInvalidCommand)
	}
	cmd := Command{Line: line}
	if strings.EqualFold(fields[0], VerbHelp) {
		cmd.Verb = VerbHelp
		return cmd, nil
	}
	if !strings.EqualFold(fields[0], "list") || len(fields) < 3 {
		return cmd, fmt.Errorf("%w: %q", domain.ErrInvalidCommand, line)
	}
	cmd.List = domain.NormalizeAddress(fields[1])
	verb := strings.ToLower(fields[2])
	if a, ok := aliases[verb]; ok {
		verb = a
	}
	rest := fields[3:]

	switch verb {
	case VerbHelp, VerbMembers:
		cmd.Verb = verb
	case VerbSubscribe, VerbUnsubscribe:
		cmd.Verb = verb
		cmd.Args = limit(rest, 1)
	case VerbAcceptSubscription, VerbAcceptUnsubscription:
		if len(rest) != 1 {
			return cmd, fmt.Errorf("%w: %s needs a token", domain.ErrInvalidCommand, verb)
		}
		cmd.Verb, cmd.Args = verb, rest
	case VerbSetFlag, VerbUnsetFlag:
		cmd.Verb = verb
		cmd.Args = limit(rest, 2)
	case VerbSet:
		cmd.Verb = verb
		return parseSet(cmd, rest)
	case "mod":
		if len(rest) == 0 {
			return cmd, fmt.Errorf("%w: mod needs approve, reject or list", domain.ErrInvalidCommand)
		}
		sub := strings.ToLower(rest[0])
		switch sub {
		case "approve", "reject":
			if len(rest) != 2 {
				return cmd, fmt.Errorf("%w: mod %s needs a message id", domain.ErrInvalidCommand, sub)
			}
			cmd.Verb, cmd.Args = "mod "+sub, rest[1:]
		case "list":
			cmd.Verb = VerbModList
		default:
			return cmd, fmt.Errorf("%w: mod %s", domain.ErrInvalidCommand, sub)
		}
	default:
		return cmd, fmt.Errorf("%w: unknown verb %q", domain.ErrInvalidCommand, verb)
	}
	return cmd, nil
}

func parseSet(cmd Command, rest []string) (Command, error) {
	var literal []string
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--true":
			cmd.Value = true
		case "--false":
			cmd.Value = false
		case "--int":
			if i+1 >= len(rest) {
				return cmd, fmt.Errorf("%w: --int needs a number", domain.ErrInvalidCommand)
			}
			n, err := strconv.ParseInt(rest[i+1], 10, 64)
			if err != nil {
				return cmd, fmt.Errorf("%w: --int %s", domain.ErrInvalidCommand, rest[i+1])
			}
			cmd.Value = n
			i++
		default:
			if len(cmd.Args) == 0 {
				cmd.Args = []string{rest[i]}
			} else {
				literal = append(literal, rest[i])
			}
		}
	}
	if cmd.Value == nil && len(literal) > 0 {
		cmd.Value = strings.Join(literal, " ")
	}
	return cmd, nil
}

func limit(args []string, n int) []string {
	if len(args) > n {
		return args[:n]
	}
	return args
}

func isCommand(line string) bool {
	f := strings.Fields(line)
	return len(f) > 0 && (strings.EqualFold(f[0], "list") || strings.EqualFold(f[0], VerbHelp))
}

// stripReply removes any number of "Re:" and "Fwd:" prefixes.
func stripReply(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, "re:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(lower, "fwd:"):
			s = strings.TrimSpace(s[4:])
		case strings.HasPrefix(lower, "fw:"):
			s = strings.TrimSpace(s[3:])
		default:
			return s
		}
	}
}
