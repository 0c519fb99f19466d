package api

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pict-recorder/logging"
	"pict-recorder/schedule"
)

var dashboardTemplate = template.Must(template.New("dashboard").Parse(`<html>
<head>
<meta charset="utf-8">
<title>PICT Recorder</title>
<meta http-equiv="refresh" content="10">
</head>
<body>
<h2>PICT Recorder</h2>
<p><b>Status:</b> {{.Status.Mode}}{{if .Status.Recording}} (recording){{end}}{{if .Status.Previewing}} (preview ON){{end}}{{if .Status.StopDeadline}} | remaining: {{.Remaining}}s{{end}}
{{if .Status.LastError}}<br/><span style="color:#a00;">Last error: {{.Status.LastError}}</span>{{end}}</p>

<h3>Controls</h3>
<p>Start duration (1..18000 s): <input id="seconds" size="8"/>
<button onclick="post('/api/start_duration', 'seconds=' + encodeURIComponent(document.getElementById('seconds').value))">Start</button></p>
<p><button onclick="post('/api/start_schedule')">Re-run WittyPi mode</button>
<button onclick="post('/api/stop')">Stop recording</button></p>
<p>Preview (new tab, only when not recording): <a href="/preview" target="_blank">/preview</a></p>

<h3>System</h3>
<p>{{.System}}</p>

<h3>Recordings</h3>
<table border="1" cellspacing="0" cellpadding="6">
<tr><th>File</th><th>Size</th><th>Download</th><th>Delete</th></tr>
{{range .Files}}<tr><td>{{.Name}}</td><td>{{.SizeHuman}}</td>
<td><a href="/api/recordings/{{.Name}}/download">download</a></td>
<td><a href="#" onclick="if (confirm('Delete {{.Name}}?')) { del('/api/recordings/{{.Name}}') } return false;">delete</a></td></tr>
{{end}}</table>

<h3>schedule.wpi</h3>
<textarea id="schedule" rows="20" cols="100" style="font-family:monospace;">{{.Schedule}}</textarea><br/>
<button onclick="put('/api/schedule', 'content=' + encodeURIComponent(document.getElementById('schedule').value))">Save</button>

<h3>Logs (latest)</h3>
<pre style="background:#111;color:#0f0;padding:8px;max-height:360px;overflow-y:auto;white-space:pre;">{{range .Logs}}{{.}}
{{end}}</pre>
<script>
function send(method, url, body) {
  fetch(url, {method: method, headers: {'Content-Type': 'application/x-www-form-urlencoded'}, body: body})
    .then(function (r) { return r.json(); })
    .then(function (j) { if (j.error) { alert(j.error); } location.reload(); });
}
function post(url, body) { send('POST', url, body || ''); }
function put(url, body) { send('PUT', url, body); }
function del(url) { send('DELETE', url); }
</script>
</body></html>
`))

func (s *Server) setupDashboard(r *gin.Engine) {
	r.SetHTMLTemplate(dashboardTemplate)
	r.GET("/", s.dashboard)
}

// dashboard renders the single-page operator view. Panels that fail to load
// are shown empty.
func (s *Server) dashboard(c *gin.Context) {
	snap := s.recorder.Status()
	files, _ := listDir(s.config.RecordingsDir)
	content, err := schedule.ReadScheduleFile(s.schedulePath)
	if err != nil {
		content = "# error reading schedule.wpi: " + err.Error() + "\n"
	}

	c.HTML(http.StatusOK, "dashboard", gin.H{
		"Status":    snap,
		"Remaining": snap.Remaining(time.Now()),
		"System":    s.systemSummary(c),
		"Files":     files,
		"Schedule":  content,
		"Logs":      logging.Tail(),
	})
}
