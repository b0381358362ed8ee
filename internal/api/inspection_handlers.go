package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/masaki-techport/oin-wood-inspection-second-sub001/internal/inspection"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // same policy as the CORS middleware
	},
}

// handleInspectionsLatest serves the latest inspection for a product.
// With an Upgrade header it becomes a websocket subscription fed by the
// watcher; plain GET returns the current row once.
func (s *Server) handleInspectionsLatest(w http.ResponseWriter, r *http.Request) {
	productNo := r.URL.Query().Get("product_no")
	if productNo == "" {
		writeError(w, http.StatusBadRequest, "product_no query parameter is required")
		return
	}

	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.serveInspectionWS(w, r, productNo)
		return
	}

	rows, err := s.Models.Inspections.LatestPerProduct(r.Context(), []string{productNo})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(rows) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"product_no": productNo, "inspection": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_no": productNo, "inspection": rows[0]})
}

func (s *Server) serveInspectionWS(w http.ResponseWriter, r *http.Request, productNo string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] API: inspection ws upgrade failed: %v", err)
		return
	}

	client := inspection.NewClient(conn, productNo)
	s.Hub.Subscribe(client)
	defer func() {
		s.Hub.Unsubscribe(client)
		client.Close()
	}()

	// The read loop exists to detect disconnects; clients send nothing
	// meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
