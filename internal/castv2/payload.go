package castv2

// Message types exchanged on the platform namespaces.
const (
	typeConnect        = "CONNECT"
	typeClose          = "CLOSE"
	typePing           = "PING"
	typePong           = "PONG"
	typeLaunch         = "LAUNCH"
	typeStop           = "STOP"
	typeGetStatus      = "GET_STATUS"
	typeReceiverStatus = "RECEIVER_STATUS"
	typeLaunchError    = "LAUNCH_ERROR"
)

// command is the outbound JSON payload shape. Zero fields are omitted
// so the same struct serves every platform namespace.
type command struct {
	Type      string `json:"type"`
	RequestID int32  `json:"requestId,omitempty"`
	AppID     string `json:"appId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// reply is the inbound payload shape on the receiver and heartbeat
// namespaces. Only the fields relevant to the reply type are set.
type reply struct {
	Type      string          `json:"type"`
	RequestID int32           `json:"requestId"`
	Reason    string          `json:"reason"`
	Status    *ReceiverStatus `json:"status"`
}

// ReceiverStatus is the device state reported on the receiver
// namespace.
type ReceiverStatus struct {
	Applications []Application `json:"applications"`
	Volume       Volume        `json:"volume"`
}

// App returns the running application with the given id, or nil.
func (s *ReceiverStatus) App(appID string) *Application {
	if s == nil {
		return nil
	}
	for i := range s.Applications {
		if s.Applications[i].AppID == appID {
			return &s.Applications[i]
		}
	}
	return nil
}

// Foreground returns the visible application, or nil when the device
// reports none.
func (s *ReceiverStatus) Foreground() *Application {
	if s == nil || len(s.Applications) == 0 {
		return nil
	}
	return &s.Applications[0]
}

// Application describes one running receiver application.
type Application struct {
	AppID        string      `json:"appId"`
	DisplayName  string      `json:"displayName"`
	SessionID    string      `json:"sessionId"`
	TransportID  string      `json:"transportId"`
	StatusText   string      `json:"statusText"`
	IsIdleScreen bool        `json:"isIdleScreen"`
	Namespaces   []Namespace `json:"namespaces"`
}

// Namespace is a channel an application listens on.
type Namespace struct {
	Name string `json:"name"`
}

// Volume is the device volume state.
type Volume struct {
	Level float64 `json:"level"`
	Muted bool    `json:"muted"`
}

// DashCastLoad is the application payload that makes DashCast render a
// URL. Force reloads the page even when the URL is unchanged.
type DashCastLoad struct {
	URL   string `json:"url"`
	Force bool   `json:"force"`
}
