package protocol

// Server event types reported through the status feed.
const (
	EventTableAssigned = "table_assigned"
	EventWaitlist      = "waitlist"
)

type Table struct {
	ID           string  `json:"id"`
	Seats        int     `json:"seats"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	GuestName    *string `json:"guest_name"`
	AssignedTime *string `json:"assigned_time"`
	ETAMinutes   *int    `json:"eta_minutes,omitempty"`
}

func (t Table) Occupied() bool {
	return t.Status == "occupied"
}

type WaitlistEntry struct {
	Name       string `json:"name"`
	PartySize  int    `json:"party_size"`
	ETAMinutes *int   `json:"eta_minutes"`
}

// ServerEvent is the most recent out-of-band event recorded by the server.
type ServerEvent struct {
	Type      string `json:"type"`
	Table     string `json:"table,omitempty"`
	Name      string `json:"name,omitempty"`
	PartySize int    `json:"party_size,omitempty"`
	Position  int    `json:"position,omitempty"`
}

// EndsSession reports whether the event should close the conversation once the
// current turn is done.
func (e ServerEvent) EndsSession() bool {
	return e.Type == EventTableAssigned
}

type Status struct {
	Tables    []Table         `json:"tables"`
	Waitlist  []WaitlistEntry `json:"waitlist"`
	LastEvent *ServerEvent    `json:"last_event,omitempty"`
}

type CheckoutRequest struct {
	TableID string `json:"table_id"`
}

type CheckoutResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Table        string `json:"table,omitempty"`
	ClearedGuest string `json:"cleared_guest,omitempty"`
	Announcement string `json:"announcement,omitempty"`
}
