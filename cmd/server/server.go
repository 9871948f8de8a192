package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sanity-io/litter"
	"golang.org/x/sync/errgroup"

	"github.com/kevinxiao27/livelist/collection"
	"github.com/kevinxiao27/livelist/service"
	"github.com/kevinxiao27/livelist/stream"
)

const writeTimeout = 10 * time.Second

type Item struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

type ItemEntry struct {
	Key  string `json:"key"`
	Item Item   `json:"item"`
}

type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Command is what clients send over the websocket.
type Command struct {
	Type     string  `json:"type"` // add, remove, set, move
	Key      string  `json:"key,omitempty"`
	Item     *Item   `json:"item,omitempty"`
	Priority float64 `json:"priority,omitempty"`
}

type Server struct {
	svc      *service.Service
	list     *collection.Collection[Item]
	registry *prometheus.Registry
	upgrader websocket.Upgrader
}

func NewServer(svc *service.Service) (*Server, error) {
	registry := prometheus.NewRegistry()
	list, err := service.AsCollection[Item](svc, collection.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	return &Server{
		svc:      svc,
		list:     list,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

func (s *Server) Close() error {
	return s.list.Close()
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/items", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/items", s.handleAdd).Methods(http.MethodPost)
	r.HandleFunc("/items/{key}", s.handleSet).Methods(http.MethodPut)
	r.HandleFunc("/items/{key}", s.handleRemove).Methods(http.MethodDelete)
	r.HandleFunc("/items/{key}/priority", s.handleMove).Methods(http.MethodPut)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) entries() []ItemEntry {
	snapshot := s.list.Snapshot()
	out := make([]ItemEntry, len(snapshot))
	for i, e := range snapshot {
		out[i] = ItemEntry{Key: e.ID, Item: e.Value}
	}
	return out
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("debug") != "" {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, litter.Sdump(s.list.Snapshot()))
		return
	}
	writeJSON(w, http.StatusOK, s.entries())
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var item Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key, err := s.list.Add(r.Context(), item)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	glog.V(1).Infof("[server]add %s\n", key)
	writeJSON(w, http.StatusCreated, ItemEntry{Key: key, Item: item})
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var item Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.list.Set(r.Context(), key, item); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.list.Remove(r.Context(), mux.Vars(r)["key"]); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	priority, err := strconv.ParseFloat(r.URL.Query().Get("value"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.list.Move(r.Context(), mux.Vars(r)["key"], priority); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebSocket pushes the current list on connect and after every change.
// A slow client skips intermediate snapshots and always gets the latest one.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	enc, err := codecFor(r.URL.Query().Get("encoding"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[server]upgrade error = %s\n", err)
		return
	}
	defer conn.Close()
	glog.Infof("[server]client connected %s\n", r.RemoteAddr)

	changed := make(chan struct{}, 1)
	changed <- struct{}{}
	ended := make(chan error, 1)
	sub := stream.Observe(s.list.Entries(),
		func([]collection.Entry[Item]) {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
		func(err error) { ended <- err },
		func() { ended <- nil },
	)
	defer sub.Unsubscribe()

	g, ctx := errgroup.WithContext(r.Context())
	cmds := make(chan Command)

	g.Go(func() error {
		defer close(cmds)
		for {
			var cmd Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return err
			}
			select {
			case cmds <- cmd:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// only this goroutine writes to conn
	g.Go(func() error {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-ended:
				if err == nil {
					return send(conn, enc, WSMessage{Type: "closed"})
				}
				if serr := send(conn, enc, WSMessage{Type: "error", Data: err.Error()}); serr != nil {
					glog.Warningf("[server]send error = %s\n", serr)
				}
				return err
			case <-changed:
				if err := send(conn, enc, WSMessage{Type: "snapshot", Data: s.entries()}); err != nil {
					return err
				}
			case cmd, ok := <-cmds:
				if !ok {
					return nil
				}
				if err := s.execute(ctx, cmd); err != nil {
					glog.Warningf("[server]%s error = %s\n", cmd.Type, err)
					if err := send(conn, enc, WSMessage{Type: "error", Data: err.Error()}); err != nil {
						return err
					}
				}
			}
		}
	})

	err = g.Wait()
	glog.Infof("[server]client disconnected %s err = %v\n", r.RemoteAddr, err)
}

func send(conn *websocket.Conn, enc codec, msg WSMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return enc.write(conn, msg)
}

func (s *Server) execute(ctx context.Context, cmd Command) error {
	glog.V(1).Infof("[server]command %s %s\n", cmd.Type, cmd.Key)
	switch cmd.Type {
	case "add":
		if cmd.Item == nil {
			return collection.ErrNilValue
		}
		_, err := s.list.Add(ctx, *cmd.Item)
		return err
	case "remove":
		return s.list.Remove(ctx, cmd.Key)
	case "set":
		if cmd.Item == nil {
			return collection.ErrNilValue
		}
		return s.list.Set(ctx, cmd.Key, *cmd.Item)
	case "move":
		return s.list.Move(ctx, cmd.Key, cmd.Priority)
	}
	return fmt.Errorf("unknown command %q", cmd.Type)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, collection.ErrNilValue),
		errors.Is(err, collection.ErrInvalidKey),
		errors.Is(err, collection.ErrIndexOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, collection.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("[server]encode error = %s\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
