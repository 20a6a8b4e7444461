package sync

import "fmt"

// Policy decides which side wins when both changed.
type Policy int

const (
	DoNothing Policy = iota
	PreferLocal
	PreferRemote
)

var policyNames = map[Policy]string{
	DoNothing:    "do-nothing",
	PreferLocal:  "prefer-local",
	PreferRemote: "prefer-remote",
}

func ParsePolicy(s string) (Policy, error) {
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return DoNothing, fmt.Errorf("%w: on-conflict %q (want do-nothing, prefer-local or prefer-remote)", ErrInvalidPolicy, s)
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Decision is what the engine does with a conflicting title.
type Decision int

const (
	ReportOnly Decision = iota
	OverwriteRemote
	OverwriteLocal
)

func (d Decision) String() string {
	switch d {
	case ReportOnly:
		return "ReportOnly"
	case OverwriteRemote:
		return "OverwriteRemote"
	case OverwriteLocal:
		return "OverwriteLocal"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Resolve maps a policy to its decision. Conflicts are never merged.
func Resolve(p Policy) Decision {
	switch p {
	case PreferLocal:
		return OverwriteRemote
	case PreferRemote:
		return OverwriteLocal
	}
	return ReportOnly
}

// DeletePolicy decides what happens to a title that vanished from one side.
type DeletePolicy int

const (
	// Recreate restores the missing side from the surviving one.
	Recreate DeletePolicy = iota
	// Ignore leaves both sides alone and reports the title as skipped.
	Ignore
)

func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch s {
	case "recreate":
		return Recreate, nil
	case "ignore":
		return Ignore, nil
	}
	return Recreate, fmt.Errorf("%w: on-delete %q (want recreate or ignore)", ErrInvalidPolicy, s)
}

func (p DeletePolicy) String() string {
	if p == Ignore {
		return "ignore"
	}
	return "recreate"
}
