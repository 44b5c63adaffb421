// Package web serves a live training monitor: a stats page with loss and
// accuracy plots, refreshed over a websocket as epochs complete.
package web

import (
	"html/template"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mdale/vistrain/trainer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server pushes training progress to connected browsers.
type Server struct {
	tr    *trainer.Trainer
	tmpl  *template.Template
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewServer creates the monitor for a trainer and registers for its stats.
func NewServer(tr *trainer.Trainer) *Server {
	s := &Server{
		tr:    tr,
		tmpl:  template.Must(template.New("monitor").Parse(monitorPage)),
		conns: map[*websocket.Conn]bool{},
	}
	tr.AddListener(s)
	return s
}

// ListenAndServe runs the monitor on addr until the process exits. Basic
// auth with a session cookie is enabled when VISTRAIN_USER and VISTRAIN_PASS
// are set in the environment.
func (s *Server) ListenAndServe(addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/", s.statsPage)
	r.HandleFunc("/ws", s.websocket)
	r.HandleFunc("/plot/{name}", s.plot)
	var handler http.Handler = r
	if user := os.Getenv("VISTRAIN_USER"); user != "" {
		handler = NewAuthMiddleware(user, os.Getenv("VISTRAIN_PASS")).Middleware(r)
	}
	logrus.WithField("addr", addr).Info("training monitor listening")
	return http.ListenAndServe(addr, handler)
}

// Epoch implements trainer.Listener, pushing the stats to all connections.
func (s *Server) Epoch(stats trainer.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteJSON(stats); err != nil {
			conn.Close()
			delete(s.conns, conn)
		}
	}
}

func (s *Server) statsPage(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Stats trainer.Stats
		Model string
	}{Stats: s.tr.Last(), Model: s.tr.Conf.Model.Name + "-" + s.tr.Conf.Model.Variant}
	if err := s.tmpl.Execute(w, data); err != nil {
		logError(w, err)
	}
}

func (s *Server) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logError(w, err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()
}

func (s *Server) plot(w http.ResponseWriter, r *http.Request) {
	var svg string
	var err error
	switch mux.Vars(r)["name"] {
	case "loss":
		svg, err = s.tr.Metrics().LinePlot("training loss", []string{"train/loss"}, 480, 320)
	case "accuracy":
		svg, err = s.tr.Metrics().LinePlot("validation accuracy",
			[]string{"val/top1_acc", "val/top5_acc"}, 480, 320)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write([]byte(svg))
}

func logError(w http.ResponseWriter, err error) {
	logrus.Error("monitor: ", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

const monitorPage = `<!DOCTYPE html>
<html>
<head><title>vistrain monitor</title></head>
<body>
<h2>{{.Model}}: epoch <span id="epoch">{{.Stats.Epoch}}</span> of {{.Stats.Epochs}}</h2>
<table border="1" cellpadding="4">
<tr><th>train loss</th><th>lr</th><th>top-1</th><th>top-5</th><th>best top-1</th><th>best top-5</th></tr>
<tr>
<td id="loss">{{printf "%.4f" .Stats.TrainLoss}}</td>
<td id="lr">{{printf "%.6f" .Stats.LR}}</td>
<td id="top1">{{printf "%.2f" .Stats.Top1}}</td>
<td id="top5">{{printf "%.2f" .Stats.Top5}}</td>
<td id="best1">{{printf "%.2f" .Stats.BestTop1}}</td>
<td id="best5">{{printf "%.2f" .Stats.BestTop5}}</td>
</tr>
</table>
<p><img src="/plot/loss" id="lossPlot"> <img src="/plot/accuracy" id="accPlot"></p>
<script>
var ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = function(ev) {
	var s = JSON.parse(ev.data);
	document.getElementById("epoch").textContent = s.epoch;
	document.getElementById("loss").textContent = s.trainLoss.toFixed(4);
	document.getElementById("lr").textContent = s.lr.toFixed(6);
	document.getElementById("top1").textContent = s.top1.toFixed(2);
	document.getElementById("top5").textContent = s.top5.toFixed(2);
	document.getElementById("best1").textContent = s.bestTop1.toFixed(2);
	document.getElementById("best5").textContent = s.bestTop5.toFixed(2);
	var ts = Date.now();
	document.getElementById("lossPlot").src = "/plot/loss?t=" + ts;
	document.getElementById("accPlot").src = "/plot/accuracy?t=" + ts;
};
</script>
</body>
</html>`
