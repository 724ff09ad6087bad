package trading

// OrderStatus 订单状态
type OrderStatus string

const (
	Unordered OrderStatus = "UNORDERED"
	Active    OrderStatus = "ACTIVE"
	Modifying OrderStatus = "MODIFYING"
	Completed OrderStatus = "COMPLETED"
	Canceled  OrderStatus = "CANCELED"
	Expired   OrderStatus = "EXPIRED"
)

var transitions = map[OrderStatus][]OrderStatus{
	Unordered: {Active},
	Active:    {Active, Modifying, Completed, Canceled, Expired},
	Modifying: {Modifying, Active, Canceled, Expired},
}

// Valid reports whether s belongs to the canonical vocabulary.
func (s OrderStatus) Valid() bool {
	switch s {
	case Unordered, Active, Modifying, Completed, Canceled, Expired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s OrderStatus) IsTerminal() bool {
	return s == Completed || s == Canceled || s == Expired
}

// CanTransition reports whether the state machine allows s -> next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) String() string { return string(s) }
