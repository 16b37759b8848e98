package api

import (
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed display.html
var displayHTML string

var displayTmpl = template.Must(template.New("display").Parse(displayHTML))

const (
	displayPollMillis      = 2000
	displayHeartbeatMillis = 30000
)

// handleDisplay serves the page the receiver loads on the TV. The page
// polls current-text, so a new send shows up within one poll interval
// even when the receiver ignores the reload.
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		DeviceName      string
		PollMillis      int
		HeartbeatMillis int
	}{
		DeviceName:      s.ctrl.GetStatus().DeviceName,
		PollMillis:      displayPollMillis,
		HeartbeatMillis: displayHeartbeatMillis,
	}
	if err := displayTmpl.Execute(w, data); err != nil {
		s.logger.WithError(err).Error("api: render display page")
	}
}
