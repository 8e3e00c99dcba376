package strategy

import (
	"math"
	"sync"

	"rsi-grid-bot/internal/signal"
	"rsi-grid-bot/internal/state"
)

type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine(initial State) *StateMachine {
	if initial == "" {
		initial = StateWaitingToBuy
	}
	return &StateMachine{State: initial}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func (s *StateMachine) SetState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = next
}

func nextState(current State, event Event) State {
	switch current {
	case StateWaitingToBuy:
		if event == EventBuyFilled {
			return StateWaitingToSell
		}
	case StateWaitingToSell:
		if event == EventSellFilled {
			return StateWaitingToBuy
		}
	}
	return current
}

// EventFor is the fill event that completes action.
func EventFor(action Action) (Event, bool) {
	switch action {
	case ActionBuy:
		return EventBuyFilled, true
	case ActionSell:
		return EventSellFilled, true
	}
	return "", false
}

// Decide applies the crossover rule to the persisted state. Only the
// threshold for the current state is watched: entry while waiting to buy,
// exit while waiting to sell. Without a previous RSI nothing fires.
func Decide(st state.BotState, rsi, entry, exit float64) Decision {
	d := Decision{
		Action:  ActionHold,
		State:   StateFromBuying(st.IsBuying),
		PrevRSI: math.NaN(),
		RSI:     rsi,
	}
	if !st.HasLastRSI || math.IsNaN(st.LastRSI) || math.IsNaN(rsi) {
		return d
	}
	d.PrevRSI = st.LastRSI
	switch d.State {
	case StateWaitingToBuy:
		if signal.CrossedBelow(st.LastRSI, rsi, entry) {
			d.Action = ActionBuy
		}
	case StateWaitingToSell:
		if signal.CrossedAbove(st.LastRSI, rsi, exit) {
			d.Action = ActionSell
		}
	}
	return d
}
