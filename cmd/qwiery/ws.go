/* Copyright 2018-2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketCouplings serves one WebSocket conversation at a time:
// text messages in are utterances, text messages out are answers.
type WebSocketCouplings struct {
	Addr string
	Path string

	in  chan string
	out chan string

	sync.Mutex
	conn *websocket.Conn

	server *http.Server
}

func NewWebSocketCouplings(args []string) (*WebSocketCouplings, *flag.FlagSet) {
	c := &WebSocketCouplings{}
	fs := flag.NewFlagSet("ws", flag.ExitOnError)
	fs.StringVar(&c.Addr, "addr", ":8080", "Listening address")
	fs.StringVar(&c.Path, "path", "/talk", "WebSocket endpoint path")
	if args == nil {
		return nil, fs
	}
	fs.Parse(args)
	return c, fs
}

func (c *WebSocketCouplings) setConn(conn *websocket.Conn) {
	c.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.Unlock()
}

func (c *WebSocketCouplings) Start(ctx context.Context) error {
	c.in = make(chan string)
	c.out = make(chan string)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(c.Path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("ws upgrade", err)
			return
		}
		log.Println("ws connect", r.RemoteAddr)
		c.setConn(conn)

		for {
			_, bs, err := conn.ReadMessage()
			if err != nil {
				log.Println("ws read", err)
				return
			}
			if len(bs) == 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case c.in <- string(bs):
			}
		}
	})

	c.server = &http.Server{
		Addr:    c.Addr,
		Handler: mux,
	}

	go func() {
		log.Println("ws listening on", c.Addr+c.Path)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-c.out:
				if !ok {
					return
				}
				c.Lock()
				conn := c.conn
				c.Unlock()
				if conn == nil {
					log.Println("ws dropping (no connection)", line)
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
					log.Println("ws write", err)
				}
			}
		}
	}()

	return nil
}

func (c *WebSocketCouplings) IO(ctx context.Context) (chan string, chan string, error) {
	return c.in, c.out, nil
}

func (c *WebSocketCouplings) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}
