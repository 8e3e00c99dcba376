package strategy

type State string

type Event string

const (
	StateWaitingToBuy  State = "WAITING_TO_BUY"
	StateWaitingToSell State = "WAITING_TO_SELL"
)

const (
	EventBuyFilled  Event = "BUY_FILLED"
	EventSellFilled Event = "SELL_FILLED"
)

type Action string

const (
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Decision is the outcome of one live cycle. PrevRSI is NaN on the first
// cycle after a fresh start.
type Decision struct {
	Action  Action
	State   State
	PrevRSI float64
	RSI     float64
}

// ParseState accepts the config spelling of a state.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case StateWaitingToBuy, StateWaitingToSell:
		return State(s), true
	}
	return "", false
}

func StateFromBuying(isBuying bool) State {
	if isBuying {
		return StateWaitingToBuy
	}
	return StateWaitingToSell
}

func (s State) IsBuying() bool {
	return s != StateWaitingToSell
}
