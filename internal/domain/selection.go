package domain

import "sort"

// Selection maps offering ids of one event to requested quantities. It is an
// immutable value: every change returns a new Selection and leaves the
// receiver as it was. Zero quantities are never stored.
type Selection struct {
	eventID string
	items   map[string]int
}

func NewSelection(eventID string) Selection {
	return Selection{eventID: eventID}
}

// SelectionFrom rebuilds a selection held by a client. Zero entries are
// dropped; negative ones are rejected. Availability is not checked here,
// ConfirmPurchase does that against the live catalog.
func SelectionFrom(eventID string, items map[string]int) (Selection, error) {
	s := Selection{eventID: eventID}
	for id, q := range items {
		if q < 0 {
			return NewSelection(eventID), &Error{Kind: KindInvalidQuantity, OfferingID: id, Requested: q}
		}
		if q == 0 {
			continue
		}
		if s.items == nil {
			s.items = make(map[string]int, len(items))
		}
		s.items[id] = q
	}
	return s, nil
}

func (s Selection) EventID() string { return s.eventID }

func (s Selection) Len() int { return len(s.items) }

func (s Selection) Quantity(offeringID string) int { return s.items[offeringID] }

// Items returns a copy of the entries.
func (s Selection) Items() map[string]int {
	out := make(map[string]int, len(s.items))
	for id, q := range s.items {
		out[id] = q
	}
	return out
}

// SetQuantity returns the selection with offeringID set to quantity. A zero
// quantity removes the entry. On error the receiver is returned unchanged.
func (s Selection) SetQuantity(offeringID string, quantity int, offerings []TicketOffering) (Selection, error) {
	if quantity < 0 {
		return s, &Error{Kind: KindInvalidQuantity, OfferingID: offeringID, Requested: quantity}
	}
	offering, ok := findOffering(offerings, offeringID)
	if quantity == 0 {
		if _, held := s.items[offeringID]; held {
			return s.without(offeringID), nil
		}
		if !ok {
			return s, &Error{Kind: KindUnknownOffering, OfferingID: offeringID}
		}
		return s, nil
	}
	if !ok {
		return s, &Error{Kind: KindUnknownOffering, OfferingID: offeringID}
	}
	if avail := offering.Available(); quantity > avail {
		return s, &Error{Kind: KindExceedsAvailability, OfferingID: offeringID, Requested: quantity, Available: avail}
	}
	next := s.clone()
	next.items[offeringID] = quantity
	return next, nil
}

func (s Selection) TotalQuantity() int {
	total := 0
	for _, q := range s.items {
		total += q
	}
	return total
}

// TotalPrice sums quantity * unit price. Entries whose offering is missing
// from offerings contribute nothing; see UnknownOfferings.
func (s Selection) TotalPrice(offerings []TicketOffering) int64 {
	var total int64
	for id, q := range s.items {
		if o, ok := findOffering(offerings, id); ok {
			total += int64(q) * o.UnitPrice
		}
	}
	return total
}

// UnknownOfferings lists selected ids that offerings does not contain, sorted.
func (s Selection) UnknownOfferings(offerings []TicketOffering) []string {
	var missing []string
	for id := range s.items {
		if _, ok := findOffering(offerings, id); !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

// PurchaseItem is one line of a PurchaseIntent, priced at confirmation time.
type PurchaseItem struct {
	OfferingID string     `json:"offering_id"`
	Kind       TicketKind `json:"type"`
	Quantity   int        `json:"quantity"`
	UnitPrice  int64      `json:"unit_price"`
}

// PurchaseIntent is a validated snapshot of a selection, ready for
// transaction creation.
type PurchaseIntent struct {
	EventID string         `json:"event_id"`
	Items   []PurchaseItem `json:"items"`
	Total   int64          `json:"total"`
}

// ConfirmPurchase re-validates every entry against offerings, which should be
// read fresh, and snapshots the result. Items follow catalog order and the
// first offending offering in that order is reported.
func (s Selection) ConfirmPurchase(offerings []TicketOffering) (PurchaseIntent, error) {
	if s.TotalQuantity() == 0 {
		return PurchaseIntent{}, &Error{Kind: KindEmptySelection}
	}
	if missing := s.UnknownOfferings(offerings); len(missing) > 0 {
		return PurchaseIntent{}, &Error{Kind: KindUnknownOffering, OfferingID: missing[0]}
	}

	intent := PurchaseIntent{EventID: s.eventID, Items: make([]PurchaseItem, 0, len(s.items))}
	for _, o := range offerings {
		q, ok := s.items[o.ID]
		if !ok {
			continue
		}
		if avail := o.Available(); q > avail {
			return PurchaseIntent{}, &Error{Kind: KindExceedsAvailability, OfferingID: o.ID, Requested: q, Available: avail}
		}
		intent.Items = append(intent.Items, PurchaseItem{
			OfferingID: o.ID,
			Kind:       o.Kind,
			Quantity:   q,
			UnitPrice:  o.UnitPrice,
		})
		intent.Total += int64(q) * o.UnitPrice
	}
	return intent, nil
}

func (s Selection) clone() Selection {
	next := Selection{eventID: s.eventID, items: make(map[string]int, len(s.items)+1)}
	for id, q := range s.items {
		next.items[id] = q
	}
	return next
}

func (s Selection) without(offeringID string) Selection {
	next := s.clone()
	delete(next.items, offeringID)
	return next
}
