package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/thereayou/banya/internal/middleware"
	"github.com/thereayou/banya/internal/stream"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: проверять origin в prod
		return true
	},
}

// wsAction — входящее сообщение websocket клиента
type wsAction struct {
	Action string `json:"action"`
}

// WebSocket — websocket вариант потока событий комнаты. Семантика сессии
// та же, что у SSE: вход при подключении, догонка по last_event_id,
// льготный таймер при обрыве. Клиент может прислать {"action":"leave"}
// для немедленного выхода.
func (h *RoomHandler) WebSocket(c *gin.Context) {
	rm, ok := h.registry.Get(c.Param("roomID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "specified room does not exist"})
		return
	}

	var props streamProps
	data := middleware.SignedData(c)
	if len(data) == 0 || json.Unmarshal(data, &props) != nil || props.Attributes == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attributes property required in query string"})
		return
	}

	sig := middleware.GetSig(c)
	queue := stream.NewQueue(streamQueueSize)
	session, err := h.sessions.Connect(rm, sig.Identity, props.Attributes, c.Query("last_event_id"), queue)
	if err != nil {
		h.roomError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		session.Disconnect()
		return
	}

	go writePump(conn, queue)
	readPump(conn, session)
}

// readPump читает команды клиента до обрыва соединения
func readPump(conn *websocket.Conn, session *stream.Session) {
	defer func() {
		session.Disconnect()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var action wsAction
		if err := conn.ReadJSON(&action); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			return
		}

		if action.Action == "leave" {
			if err := session.Leave(); err != nil {
				log.Printf("websocket leave for %s: %v", session.Identity(), err)
			}
			return
		}
	}
}

// writePump выкачивает записи из буфера сессии в соединение
func writePump(conn *websocket.Conn, queue *stream.Queue) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case entry := <-queue.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
