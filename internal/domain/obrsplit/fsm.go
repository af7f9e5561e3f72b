// Package obrsplit partitions HL7 messages that carry several orders into
// one message per OBR group. Each output repeats the shared MSH/PID/ORC
// header so it stays valid on its own.
package obrsplit

import "github.com/rs/zerolog"

// State is a state of the grouping machine.
type State int

const (
	// AwaitingHeader is the initial state: no MSH has been seen yet.
	AwaitingHeader State = iota
	// InHeader follows an MSH; PID/ORC lines extend the header.
	InHeader
	// InOrderGroup follows an OBR; result lines join the open group.
	InOrderGroup
)

func (s State) String() string {
	switch s {
	case AwaitingHeader:
		return "AwaitingHeader"
	case InHeader:
		return "InHeader"
	case InOrderGroup:
		return "InOrderGroup"
	default:
		return "Unknown"
	}
}

// segmentKind is the input alphabet of the machine.
type segmentKind int

const (
	kindMSH segmentKind = iota
	kindHeader
	kindOBR
	kindOther
)

func classify(line string) segmentKind {
	if len(line) < 3 {
		return kindOther
	}
	switch line[:3] {
	case "MSH":
		return kindMSH
	case "PID", "ORC":
		return kindHeader
	case "OBR":
		return kindOBR
	default:
		return kindOther
	}
}

type action func(m *machine, line string)

type transition struct {
	next State
	act  action
}

type transitionKey struct {
	state State
	kind  segmentKind
}

var transitions = map[transitionKey]transition{
	{AwaitingHeader, kindMSH}:    {InHeader, (*machine).startHeader},
	{AwaitingHeader, kindHeader}: {AwaitingHeader, discard("header segment before MSH")},
	{AwaitingHeader, kindOBR}:    {AwaitingHeader, discard("OBR before MSH")},
	{AwaitingHeader, kindOther}:  {AwaitingHeader, discard("segment before MSH")},

	{InHeader, kindMSH}:    {InHeader, (*machine).startHeader},
	{InHeader, kindHeader}: {InHeader, (*machine).appendHeader},
	{InHeader, kindOBR}:    {InOrderGroup, (*machine).startGroup},
	{InHeader, kindOther}:  {InHeader, discard("segment outside an OBR group")},

	{InOrderGroup, kindMSH}:    {InHeader, (*machine).flushAndStartHeader},
	{InOrderGroup, kindHeader}: {InOrderGroup, (*machine).appendHeader},
	{InOrderGroup, kindOBR}:    {InOrderGroup, (*machine).flushAndStartGroup},
	{InOrderGroup, kindOther}:  {InOrderGroup, (*machine).appendGroup},
}

func discard(why string) action {
	return func(m *machine, line string) {
		m.logger.Warn().Str("state", m.state.String()).Str("segment", preview(line)).Msg("discarding " + why)
	}
}

func preview(line string) string {
	if len(line) > 50 {
		return line[:50] + "..."
	}
	return line
}

// group is one emitted unit: a copy of the header plus one OBR group, or the
// header alone when no order was found.
type group struct {
	header []string
	order  []string
}

type machine struct {
	state   State
	header  []string
	order   []string
	groups  []group
	orders  int
	headers int
	logger  zerolog.Logger
}

func newMachine(logger zerolog.Logger) *machine {
	return &machine{state: AwaitingHeader, logger: logger}
}

func (m *machine) step(line string) {
	t, ok := transitions[transitionKey{m.state, classify(line)}]
	if !ok {
		return
	}
	t.act(m, line)
	m.state = t.next
}

func (m *machine) startHeader(line string) {
	m.header = []string{line}
	m.order = nil
	m.headers++
}

func (m *machine) appendHeader(line string) {
	m.header = append(m.header, line)
}

func (m *machine) startGroup(line string) {
	m.order = []string{line}
	m.orders++
}

func (m *machine) appendGroup(line string) {
	m.order = append(m.order, line)
}

func (m *machine) flush() {
	m.groups = append(m.groups, group{
		header: append([]string(nil), m.header...),
		order:  m.order,
	})
	m.order = nil
}

func (m *machine) flushAndStartHeader(line string) {
	m.flush()
	m.startHeader(line)
}

func (m *machine) flushAndStartGroup(line string) {
	m.flush()
	m.startGroup(line)
}

// finish flushes the open group. When a header was seen but no OBR ever
// was, the last header is emitted alone with missing set.
func (m *machine) finish() (groups []group, missing bool) {
	if m.state == InOrderGroup {
		m.flush()
	}
	if m.orders == 0 && len(m.header) > 0 {
		return []group{{header: m.header}}, true
	}
	return m.groups, false
}
