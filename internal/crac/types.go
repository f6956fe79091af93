package crac

// #region instant
// InstantKind enumerates the stages of the operating timeline.
type InstantKind string

const (
	InstantPreventive InstantKind = "PREVENTIVE"
	InstantOutage     InstantKind = "OUTAGE"
	InstantAuto       InstantKind = "AUTO"
	InstantCurative   InstantKind = "CURATIVE"
)

// Instant is a named stage of the timeline. Order defines the sequence.
type Instant struct {
	ID    string
	Kind  InstantKind
	Order int
}

// ComesBefore reports whether i happens strictly before other.
func (i Instant) ComesBefore(other Instant) bool {
	return i.Order < other.Order
}

func (i Instant) IsPreventive() bool { return i.Kind == InstantPreventive }
func (i Instant) IsCurative() bool   { return i.Kind == InstantCurative }

// #endregion instant

// #region contingency-state
// Contingency is a named loss of network elements.
type Contingency struct {
	ID       string
	Name     string
	Elements []string
}

// State pairs an instant with an optional contingency.
// The preventive state has no contingency.
type State struct {
	Instant     Instant
	Contingency *Contingency
}

// ID returns "preventive" for the base case and "<contingency> - <instant>" otherwise.
func (s State) ID() string {
	if s.Contingency == nil {
		return s.Instant.ID
	}
	return s.Contingency.ID + " - " + s.Instant.ID
}

func (s State) IsPreventive() bool { return s.Contingency == nil && s.Instant.IsPreventive() }

// ContingencyID returns the contingency ID, or "" for the preventive state.
func (s State) ContingencyID() string {
	if s.Contingency == nil {
		return ""
	}
	return s.Contingency.ID
}

// #endregion contingency-state

// #region units
// Side identifies one end of a monitored branch.
type Side string

const (
	SideOne Side = "ONE"
	SideTwo Side = "TWO"
)

// Unit is the physical unit of a threshold or a margin.
type Unit string

const (
	Megawatt    Unit = "MEGAWATT"
	Ampere      Unit = "AMPERE"
	Kilovolt    Unit = "KILOVOLT"
	Degree      Unit = "DEGREE"
	PercentImax Unit = "PERCENT_IMAX"
)

// Threshold bounds a flow on one side. A nil Min or Max means no bound.
type Threshold struct {
	Unit Unit
	Side Side
	Min  *float64
	Max  *float64
}

// LoopFlowThreshold caps the loop-flow of a CNEC, in MW.
type LoopFlowThreshold struct {
	Value float64
}

// #endregion units

// #region flow-cnec
// FlowCnec is a monitored branch for a given state.
type FlowCnec struct {
	ID                string
	Name              string
	NetworkElement    string
	Operator          string
	Location          []string // countries the element touches, empty when unknown
	State             State
	Thresholds        []Threshold
	Optimized         bool
	Monitored         bool
	NominalVoltage    map[Side]float64 // kV
	IMax              map[Side]float64 // A
	ReliabilityMargin float64          // MW
	LoopFlowThreshold *LoopFlowThreshold

	order int
}

// Order is the declaration index of the CNEC in its catalogue.
func (c *FlowCnec) Order() int { return c.order }

// #endregion flow-cnec

// #region usage
// UsageMethod says whether a remedial action can or must be used in a state.
type UsageMethod string

const (
	UsageForced      UsageMethod = "FORCED"
	UsageAvailable   UsageMethod = "AVAILABLE"
	UsageUnavailable UsageMethod = "UNAVAILABLE"
	UsageUndefined   UsageMethod = "UNDEFINED"
)

// UsageRule enables a remedial action at an instant, optionally only after one contingency.
type UsageRule struct {
	InstantID     string
	ContingencyID string
	Method        UsageMethod
}

// RemedialAction holds what network and range actions share.
type RemedialAction struct {
	ID         string
	Name       string
	Operator   string
	Location   []string
	UsageRules []UsageRule
}

// #endregion usage

// #region network-action
// ElementaryActionKind enumerates the atomic changes a network action applies.
type ElementaryActionKind string

const (
	ElementaryTopology   ElementaryActionKind = "TOPOLOGY"
	ElementaryInjection  ElementaryActionKind = "INJECTION_SETPOINT"
	ElementaryPstTap     ElementaryActionKind = "PST_SETPOINT"
	ElementarySwitchPair ElementaryActionKind = "SWITCH_PAIR"
)

// ElementaryAction is one change on one network element.
type ElementaryAction struct {
	NetworkElement string
	Kind           ElementaryActionKind
	Value          float64
}

// NetworkAction is a discrete remedial action applied as a unit.
type NetworkAction struct {
	RemedialAction
	ElementaryActions []ElementaryAction
}

// #endregion network-action

// #region range-action
// RangeActionType enumerates the continuous remedial action subtypes.
type RangeActionType string

const (
	RangePst          RangeActionType = "PST"
	RangeHvdc         RangeActionType = "HVDC"
	RangeInjection    RangeActionType = "INJECTION"
	RangeCounterTrade RangeActionType = "COUNTER_TRADE"
)

// RangeKind tells what a Range is relative to.
type RangeKind string

const (
	RangeAbsolute           RangeKind = "ABSOLUTE"
	RangeRelativeToInitial  RangeKind = "RELATIVE_TO_INITIAL"
	RangeRelativeToPrevious RangeKind = "RELATIVE_TO_PREVIOUS"
)

// Range restricts the setpoint of a range action.
type Range struct {
	Kind RangeKind
	Min  float64
	Max  float64
}

// RangeAction is a continuous remedial action with a bounded setpoint.
// For PSTs, TapAngles lists the angle of every tap position in ascending tap order.
type RangeAction struct {
	RemedialAction
	Type            RangeActionType
	GroupID         string
	NetworkElements []string
	InitialSetpoint float64
	Ranges          []Range
	TapAngles       []float64
}

// #endregion range-action
