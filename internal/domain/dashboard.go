package domain

// CustomerStats summarises the completed purchases of one identity.
type CustomerStats struct {
	TotalTransactions int   `json:"total_transactions"`
	TotalTickets      int   `json:"total_tickets"`
	TotalSpent        int64 `json:"total_spent"`
	PendingCount      int   `json:"pending_transactions"`
}

// SalesStats aggregates completed sales over a set of events.
type SalesStats struct {
	TotalTransactions int   `json:"total_transactions"`
	TotalTicketsSold  int   `json:"total_tickets_sold"`
	TotalRevenue      int64 `json:"total_revenue"`
}

// OrganizerStats is the organizer dashboard summary.
type OrganizerStats struct {
	TotalEvents    int `json:"total_events"`
	UpcomingEvents int `json:"upcoming_events"`
	SalesStats
}
