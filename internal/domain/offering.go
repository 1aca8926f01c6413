package domain

type TicketKind string

const (
	KindRegular   TicketKind = "REGULAR"
	KindVIP       TicketKind = "VIP"
	KindEarlyBird TicketKind = "EARLY_BIRD"
)

func (k TicketKind) Valid() bool {
	switch k {
	case KindRegular, KindVIP, KindEarlyBird:
		return true
	}
	return false
}

// TicketOffering is one purchasable ticket kind of an event. Prices are in
// the smallest currency unit.
type TicketOffering struct {
	ID            string     `json:"id"`
	Kind          TicketKind `json:"type"`
	UnitPrice     int64      `json:"price"`
	TotalQuantity int        `json:"quantity"`
	SoldQuantity  int        `json:"sold"`
	Description   string     `json:"description,omitempty"`
}

// Available never goes below zero, even for inconsistent catalog data.
func (o TicketOffering) Available() int {
	if n := o.TotalQuantity - o.SoldQuantity; n > 0 {
		return n
	}
	return 0
}

func findOffering(offerings []TicketOffering, id string) (TicketOffering, bool) {
	for _, o := range offerings {
		if o.ID == id {
			return o, true
		}
	}
	return TicketOffering{}, false
}
