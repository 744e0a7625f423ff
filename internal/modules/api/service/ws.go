package service

import (
	"net/http"
	"time"
	"trade_sim/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// аутентификация уже пройдена в wrap, origin не проверяем
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS пушит сводки всех сессий раз в cfg.WSRefresh, пока клиент
// не отвалится. Каждое соединение обслуживается своей горутиной.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// читатель нужен только чтобы заметить закрытие со стороны клиента
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.WSRefresh)
	defer ticker.Stop()

	for {
		data, err := sonic.Marshal(s.mgr.ListSessions())
		if err != nil {
			logger.Error("ws marshal: %v", err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
