package domain

// DecisionAction is the oracle's verdict on the current chart.
type DecisionAction string

const (
	ActionBuy  DecisionAction = "BUY"
	ActionSell DecisionAction = "SELL"
	ActionWait DecisionAction = "WAIT"
)

// Decision is the pattern-recognition oracle's answer for one evaluation.
// Stop and Target are structural levels read off the chart; either may be
// zero when the oracle does not supply one.
type Decision struct {
	Pattern    string
	Action     DecisionAction
	Confidence int
	Entry      float64
	Stop       float64
	Target     float64
}

// Actionable reports whether the decision is a tradeable signal at the
// given confidence threshold. Confidence must strictly exceed the
// threshold.
func (d Decision) Actionable(minConfidence int) bool {
	return d.Action != ActionWait && d.Action != "" && d.Confidence > minConfidence
}

// OrderSide maps the decision action to the broker order side. Only valid
// for actionable decisions.
func (d Decision) OrderSide() OrderSide {
	if d.Action == ActionSell {
		return OrderSideSell
	}
	return OrderSideBuy
}
